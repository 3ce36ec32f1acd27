package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdownflow/flowrun/pkg/services"
)

// runLockKeyFormat keys the per-(user, outline) run mutex. The value holds
// the start time in unix seconds so the status endpoint can report how long
// the run has been going.
const runLockKeyFormat = "%ssys:run_lock:%s:%s"

const (
	runLockTTL      = 5 * time.Minute
	runLockWait     = 1 * time.Second
	runLockInterval = 100 * time.Millisecond
)

// Lock serialises runs per learner and outline. Concurrent run requests for
// the same pair must not interleave block steps; the second caller gets
// ErrRunInProgress after a short wait.
type Lock struct {
	rdb    *redis.Client
	prefix string
}

// NewLock returns a Lock on the given Redis client.
func NewLock(rdb *redis.Client, prefix string) *Lock {
	return &Lock{rdb: rdb, prefix: prefix}
}

func (l *Lock) key(userBID, outlineBID string) string {
	return fmt.Sprintf(runLockKeyFormat, l.prefix, userBID, outlineBID)
}

// Acquire takes the run lock, retrying briefly, and returns the release
// function. The release survives request cancellation; the TTL covers a
// crashed process.
func (l *Lock) Acquire(ctx context.Context, userBID, outlineBID string) (func(), error) {
	key := l.key(userBID, outlineBID)
	deadline := time.Now().Add(runLockWait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, strconv.FormatInt(time.Now().Unix(), 10), runLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		if ok {
			release := func() {
				if err := l.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
					slog.Warn("Failed to release run lock", "key", key, "error", err)
				}
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, services.ErrRunInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(runLockInterval):
		}
	}
}

// Status reports whether a run holds the lock and for how many seconds.
func (l *Lock) Status(ctx context.Context, userBID, outlineBID string) (bool, int64, error) {
	val, err := l.rdb.Get(ctx, l.key(userBID, outlineBID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read run lock: %w", err)
	}
	started, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return true, 0, nil
	}
	elapsed := time.Now().Unix() - started
	if elapsed < 0 {
		elapsed = 0
	}
	return true, elapsed, nil
}
