package config

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/markdownflow/flowrun/test/database"
	"github.com/markdownflow/flowrun/test/util"
)

const testSecretKey = "store-test-secret-key"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := testdb.NewTestClient(t)
	rdb := util.SetupTestRedis(t)
	return NewStore(client.DB(), rdb, "cfgtest:", testSecretKey).
		WithEnvLookup(func(string) string { return "" })
}

func TestStoreSecretRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, "API_TOKEN", "hunter2", true, "partner API token")
	require.NoError(t, err)
	require.True(t, added)

	// At rest the value is a Fernet token, not the plaintext.
	var stored string
	var encrypted bool
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT value, is_encrypted FROM sys_config WHERE key = 'API_TOKEN' ORDER BY id DESC LIMIT 1`,
	).Scan(&stored, &encrypted))
	assert.True(t, encrypted)
	assert.NotEqual(t, "hunter2", stored)
	plain, err := Decrypt(testSecretKey, stored)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	// Warm read resolves from the write-through cache.
	v, err := store.Get(ctx, "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	// Cold read falls through to the database and refills the cache, still
	// encrypted.
	cacheKey := fmt.Sprintf(cacheKeyFormat, store.prefix, "API_TOKEN")
	require.NoError(t, store.rdb.Del(ctx, cacheKey).Err())
	v, err = store.Get(ctx, "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	raw, err := store.rdb.Get(ctx, cacheKey).Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"is_encrypted":true`)
	assert.NotContains(t, raw, "hunter2")
}

func TestStorePlainValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, "GREETING", "hello", false, "")
	require.NoError(t, err)
	require.True(t, added)

	var stored string
	var encrypted bool
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT value, is_encrypted FROM sys_config WHERE key = 'GREETING' ORDER BY id DESC LIMIT 1`,
	).Scan(&stored, &encrypted))
	assert.False(t, encrypted)
	assert.Equal(t, "hello", stored)

	v, err := store.Get(ctx, "GREETING")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestStoreEnvOverrideWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, "MODE", "from-db", false, "")
	require.NoError(t, err)

	store.WithEnvLookup(func(key string) string {
		if key == "MODE" {
			return "from-env"
		}
		return ""
	})

	v, err := store.Get(ctx, "MODE")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	// Writes are refused while the env layer shadows the key.
	added, err := store.Add(ctx, "MODE", "ignored", false, "")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestStoreMissingKey(t *testing.T) {
	store := newTestStore(t)

	v, err := store.Get(context.Background(), "NO_SUCH_KEY")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStoreUpdateTakesNewerRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, "LIMIT", "10", false, "")
	require.NoError(t, err)

	// A fresh process (cold cache) must see the replacement row.
	cacheKey := fmt.Sprintf(cacheKeyFormat, store.prefix, "LIMIT")
	require.NoError(t, store.rdb.Del(ctx, cacheKey).Err())
	updated, err := store.Update(ctx, "LIMIT", "20", false, "")
	require.NoError(t, err)
	require.True(t, updated)

	require.NoError(t, store.rdb.Del(ctx, cacheKey).Err())
	v, err := store.Get(ctx, "LIMIT")
	require.NoError(t, err)
	assert.Equal(t, "20", v)

	// Both rows remain; the latest wins.
	var rows int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sys_config WHERE key = 'LIMIT'`).Scan(&rows))
	assert.Equal(t, 2, rows)
}

func TestStoreSecretWithoutKeyFails(t *testing.T) {
	store := newTestStore(t)
	store.secretKey = ""

	_, err := store.Add(context.Background(), "TOKEN", "value", true, "")
	assert.ErrorIs(t, err, ErrNoSecretKey)
}
