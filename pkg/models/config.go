package models

import "time"

// ConfigEntry is one row of the process-wide key-value store. Secret values
// are stored as Fernet ciphertext; the latest row per key wins.
type ConfigEntry struct {
	ID          int64     `json:"-"`
	ConfigBID   string    `json:"config_bid"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	IsEncrypted bool      `json:"is_encrypted"`
	Remark      string    `json:"remark,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthUser is the minimal user shape the run loop depends on. Full identity
// management is external.
type AuthUser struct {
	ID      int64  `json:"-"`
	UserBID string `json:"user_bid"`
	Mobile  string `json:"mobile,omitempty"`
	State   string `json:"state,omitempty"`
}
