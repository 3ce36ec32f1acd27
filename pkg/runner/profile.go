package runner

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// profileKeyFormat keys one learner's variable hash for one course.
const profileKeyFormat = "%ssys:user_profile:%s:%s"

// RedisProfileStore keeps learner variables in a Redis hash, one field per
// variable. Values written by one run are visible to every later run of the
// same course.
type RedisProfileStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisProfileStore returns a ProfileStore on the given Redis client.
func NewRedisProfileStore(rdb *redis.Client, prefix string) *RedisProfileStore {
	return &RedisProfileStore{rdb: rdb, prefix: prefix}
}

func (s *RedisProfileStore) key(userBID, shifuBID string) string {
	return fmt.Sprintf(profileKeyFormat, s.prefix, userBID, shifuBID)
}

// Variables implements ProfileStore.
func (s *RedisProfileStore) Variables(ctx context.Context, userBID, shifuBID string) (map[string]string, error) {
	vars, err := s.rdb.HGetAll(ctx, s.key(userBID, shifuBID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load learner profile: %w", err)
	}
	return vars, nil
}

// SetVariables implements ProfileStore. Existing fields keep their values
// unless the update names them.
func (s *RedisProfileStore) SetVariables(ctx context.Context, userBID, shifuBID string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, s.key(userBID, shifuBID), vars).Err(); err != nil {
		return fmt.Errorf("failed to store learner profile: %w", err)
	}
	return nil
}
