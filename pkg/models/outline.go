package models

import "time"

// Outline item types. Trial outlines require a logged-in user, normal ones a
// paid order; guest outlines are open.
const (
	OutlineTypeNormal = "normal"
	OutlineTypeTrial  = "trial"
	OutlineTypeGuest  = "guest"
)

// OutlineItem is one node of a course's outline tree. Leaf outlines carry the
// MarkdownFlow document that drives the run loop.
type OutlineItem struct {
	ID              int64     `json:"-"`
	OutlineItemBID  string    `json:"outline_item_bid"`
	ShifuBID        string    `json:"shifu_bid"`
	Variant         string    `json:"-"`
	Position        string    `json:"position"`
	Title           string    `json:"title"`
	Type            string    `json:"type"`
	Hidden          bool      `json:"hidden"`
	LLMSystemPrompt string    `json:"llm_system_prompt,omitempty"`
	LLM             string    `json:"llm,omitempty"`
	LLMTemperature  *float64  `json:"llm_temperature,omitempty"`
	MDFlow          string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OutlineTreeNode is the learner-facing outline tree with per-node learning
// status, returned by GET /shifu/:shifu_bid/outline-item-tree.
type OutlineTreeNode struct {
	OutlineBID string             `json:"outline_bid"`
	Title      string             `json:"title"`
	Position   string             `json:"position"`
	Type       string             `json:"type"`
	Status     string             `json:"status"`
	Children   []*OutlineTreeNode `json:"children,omitempty"`
}
