package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyFormat = "%ssys:config:%s"
	lockKeyFormat  = "%ssys:config:lock:%s"

	lockTTL      = 5 * time.Second
	lockWait     = 1 * time.Second
	lockInterval = 50 * time.Millisecond
)

// Store is the dynamic key-value configuration store. Reads resolve in
// order: environment override, Redis cache, database. Ops relies on the env
// layer winning, so that order is a correctness requirement.
type Store struct {
	db        *sql.DB
	rdb       *redis.Client
	prefix    string
	secretKey string
	env       func(string) string
	logger    *slog.Logger
}

// cacheEntry is the Redis representation of one config value. Encrypted
// values stay encrypted in the cache.
type cacheEntry struct {
	IsEncrypted bool   `json:"is_encrypted"`
	Value       string `json:"value"`
}

// NewStore builds a Store. prefix namespaces every Redis key the store
// touches; secretKey may be empty when no values are marked secret.
func NewStore(db *sql.DB, rdb *redis.Client, prefix, secretKey string) *Store {
	return &Store{
		db:        db,
		rdb:       rdb,
		prefix:    prefix,
		secretKey: secretKey,
		env:       os.Getenv,
		logger:    slog.Default(),
	}
}

// WithEnvLookup replaces the environment lookup, for tests.
func (s *Store) WithEnvLookup(lookup func(string) string) *Store {
	s.env = lookup
	return s
}

// Get resolves one key. A missing key returns "" with no error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if v := s.env(key); v != "" {
		return v, nil
	}

	if v, ok, err := s.getCached(ctx, key); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}

	// Cold read: take a short lock so concurrent cold reads of the same key
	// hit the database once.
	lockKey := fmt.Sprintf(lockKeyFormat, s.prefix, key)
	acquired := s.acquireLock(ctx, lockKey)
	if acquired {
		defer s.rdb.Del(context.WithoutCancel(ctx), lockKey)
	} else {
		// The lock holder has likely filled the cache by now.
		if v, ok, err := s.getCached(ctx, key); err != nil {
			return "", err
		} else if ok {
			return v, nil
		}
	}

	entry, found, err := s.readLatestRow(ctx, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			// Migration window: the table does not exist yet.
			return s.env(key), nil
		}
		return "", err
	}
	if !found {
		return "", nil
	}

	if acquired {
		s.writeCache(ctx, key, entry)
	}
	return s.decryptEntry(entry)
}

// Add persists a new value for key. Returns false without writing when an
// environment override shadows the key.
func (s *Store) Add(ctx context.Context, key, value string, isSecret bool, remark string) (bool, error) {
	if s.env(key) != "" {
		s.logger.Info("config add skipped, env override set", "key", key)
		return false, nil
	}
	return true, s.save(ctx, key, value, isSecret, remark)
}

// Update persists a replacement value for key. Returns false when an
// environment override shadows the key.
func (s *Store) Update(ctx context.Context, key, value string, isSecret bool, remark string) (bool, error) {
	if s.env(key) != "" {
		return false, nil
	}
	return true, s.save(ctx, key, value, isSecret, remark)
}

// save inserts a fresh row (latest row per key wins) and writes through to
// the cache. An existing cache entry wins over the caller's value, so two
// concurrent writers converge on one value instead of interleaving.
func (s *Store) save(ctx context.Context, key, value string, isSecret bool, remark string) error {
	if cached, ok, err := s.getCached(ctx, key); err != nil {
		return err
	} else if ok {
		value = cached
	}

	stored := value
	if isSecret {
		encrypted, err := Encrypt(s.secretKey, value)
		if err != nil {
			return err
		}
		stored = encrypted
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sys_config (config_bid, key, value, is_encrypted, remark, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		uuid.NewString(), key, stored, isSecret, remark, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save config %q: %w", key, err)
	}

	s.writeCache(ctx, key, cacheEntry{IsEncrypted: isSecret, Value: stored})
	return nil
}

// getCached reads and decodes the Redis entry for key. A malformed entry is
// treated as a miss so a bad write cannot wedge the key forever.
func (s *Store) getCached(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(cacheKeyFormat, s.prefix, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Warn("config cache read failed", "key", key, "error", err)
		return "", false, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.logger.Warn("config cache entry malformed", "key", key, "error", err)
		return "", false, nil
	}
	v, err := s.decryptEntry(entry)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) writeCache(ctx context.Context, key string, entry cacheEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(cacheKeyFormat, s.prefix, key), payload, 0).Err(); err != nil {
		s.logger.Warn("config cache write failed", "key", key, "error", err)
	}
}

// acquireLock tries SETNX with a TTL, retrying for up to lockWait.
func (s *Store) acquireLock(ctx context.Context, lockKey string) bool {
	deadline := time.Now().Add(lockWait)
	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			s.logger.Warn("config lock attempt failed", "key", lockKey, "error", err)
			return false
		}
		if ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(lockInterval):
		}
	}
}

func (s *Store) readLatestRow(ctx context.Context, key string) (cacheEntry, bool, error) {
	var entry cacheEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT value, is_encrypted FROM sys_config WHERE key = $1 ORDER BY id DESC LIMIT 1`,
		key,
	).Scan(&entry.Value, &entry.IsEncrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return cacheEntry{}, false, nil
	}
	if err != nil {
		return cacheEntry{}, false, fmt.Errorf("failed to read config %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *Store) decryptEntry(entry cacheEntry) (string, error) {
	if !entry.IsEncrypted {
		return entry.Value, nil
	}
	return Decrypt(s.secretKey, entry.Value)
}
