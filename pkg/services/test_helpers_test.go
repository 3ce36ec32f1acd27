package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/stretchr/testify/require"
)

// seedShifu inserts a minimal course row and returns its bid.
func seedShifu(t *testing.T, db *sql.DB, variant string, ttsEnabled bool) string {
	t.Helper()
	bid := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO shifu (shifu_bid, variant, title, description, price, keywords, tts_enabled, tts_provider, tts_voice_id)
		VALUES ($1, $2, 'Intro to Go', 'A course', 9.90, '["go","basics"]', $3, 'volcengine', 'voice-1')`,
		bid, variant, ttsEnabled)
	require.NoError(t, err)
	return bid
}

// seedOutline inserts one outline item row and returns its bid.
func seedOutline(t *testing.T, db *sql.DB, shifuBID, variant, title, mdflow string) string {
	t.Helper()
	bid := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO outline_item (outline_item_bid, shifu_bid, variant, title, type, mdflow)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		bid, shifuBID, variant, title, models.OutlineTypeGuest, mdflow)
	require.NoError(t, err)
	return bid
}

// seedStructTree inserts one structure snapshot row.
func seedStructTree(t *testing.T, db *sql.DB, shifuBID, variant, treeJSON string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO struct_tree (shifu_bid, variant, tree)
		VALUES ($1, $2, $3)`,
		shifuBID, variant, treeJSON)
	require.NoError(t, err)
}

// seedProgress inserts one progress row directly and returns its bid.
func seedProgress(t *testing.T, db *sql.DB, userBID, shifuBID, outlineBID, status string, position int) string {
	t.Helper()
	bid := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO learn_progress_record (progress_record_bid, user_bid, shifu_bid, outline_item_bid, status, block_position)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		bid, userBID, shifuBID, outlineBID, status, position)
	require.NoError(t, err)
	return bid
}
