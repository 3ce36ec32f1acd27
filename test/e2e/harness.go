// Package e2e drives the engine end to end: real PostgreSQL and Redis from
// testcontainers, the real services and runner, a scripted LLM and TTS
// provider, and the HTTP surface served over httptest.
package e2e

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/markdownflow/flowrun/pkg/api"
	"github.com/markdownflow/flowrun/pkg/config"
	"github.com/markdownflow/flowrun/pkg/database"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/oss"
	"github.com/markdownflow/flowrun/pkg/runner"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
	"github.com/markdownflow/flowrun/test/util"
)

// TestUserBID is the learner every harness request runs as.
const TestUserBID = "user-e2e"

// Harness is one fully wired engine instance on per-test infrastructure.
type Harness struct {
	t *testing.T

	DB  *sql.DB
	RDB *redis.Client
	Cfg *config.Config

	LLM *ScriptedLLM
	TTS *ScriptedTTS

	Progress *services.ProgressService
	Blocks   *services.GeneratedService
	Audio    *services.AudioService

	Server *httptest.Server
}

// HarnessOptions tunes the wiring of one harness.
type HarnessOptions struct {
	// TTSEnabled wires the synthesis pipeline. The seeded course must also
	// enable TTS for audio events to appear.
	TTSEnabled bool
}

// NewHarness builds the engine on a fresh schema and Redis database. All
// infrastructure is cleaned up when the test ends.
func NewHarness(t *testing.T, opts HarnessOptions) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := util.SetupTestDatabase(t)
	rdb := util.SetupTestRedis(t)

	cfg := &config.Config{
		HTTPPort:               "0",
		PathPrefix:             "/api/learn",
		DefaultLLMModel:        "test-model",
		DefaultLLMTemperature:  0.7,
		TTSMaxSegmentChars:     300,
		TTSWorkerCount:         2,
		TTSSegmentTimeout:      5 * time.Second,
		NextChapterButtonLabel: "Next Chapter",
	}

	dbClient := database.NewClientFromDB(db)
	shifuService := services.NewShifuService(db)
	outlineService := services.NewOutlineService(db)
	progressService := services.NewProgressService(db)
	generatedService := services.NewGeneratedService(db)
	audioService := services.NewAudioService(db)
	usageService := services.NewUsageService(db)
	userService := services.NewUserService(db)

	llmProvider := &ScriptedLLM{}
	ttsProvider := &ScriptedTTS{}

	var ttsDeps *runner.TTSDeps
	if opts.TTSEnabled {
		pool := tts.NewPool(cfg.TTSWorkerCount)
		pool.Start()
		t.Cleanup(pool.Stop)
		uploader, err := oss.NewLocalUploader(t.TempDir(), "http://cdn.test/audio")
		require.NoError(t, err)
		ttsDeps = &runner.TTSDeps{Provider: ttsProvider, Pool: pool, Uploader: uploader}
	}

	deps := runner.Deps{
		Config:   cfg,
		LLM:      llmProvider,
		Shifu:    shifuService,
		Outline:  outlineService,
		Progress: progressService,
		Blocks:   generatedService,
		Users:    userService,
		Profile:  runner.NewRedisProfileStore(rdb, "e2e:"),
		Usage:    usageService,
		Tx: &runner.SQLTxRunner{
			DB:       db,
			Progress: progressService,
			Blocks:   generatedService,
			Audio:    audioService,
		},
		TTS: ttsDeps,
	}

	srv := api.NewServer(cfg, dbClient, api.Stores{
		Shifus:   shifuService,
		Outlines: outlineService,
		Progress: progressService,
		Blocks:   generatedService,
		Audio:    audioService,
	}, deps, runner.NewLock(rdb, "e2e:"))

	engine := gin.New()
	srv.RegisterRoutes(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	return &Harness{
		t:        t,
		DB:       db,
		RDB:      rdb,
		Cfg:      cfg,
		LLM:      llmProvider,
		TTS:      ttsProvider,
		Progress: progressService,
		Blocks:   generatedService,
		Audio:    audioService,
		Server:   ts,
	}
}

// Course is the seeded fixture: one chapter with two leaf lessons.
type Course struct {
	ShifuBID   string
	ChapterBID string
	Lesson1BID string
	Lesson2BID string
}

// CourseOptions tunes the seeded course.
type CourseOptions struct {
	// Lesson1 and Lesson2 are the MarkdownFlow documents of the two leaves.
	Lesson1 string
	Lesson2 string

	// OutlineType applies to both lessons; defaults to guest (no gates).
	OutlineType string

	// TTSEnabled marks the course for audio synthesis.
	TTSEnabled bool
}

// SeedCourse inserts a published course, its structure snapshot and the test
// learner.
func (h *Harness) SeedCourse(opts CourseOptions) Course {
	h.t.Helper()
	ctx := context.Background()

	if opts.OutlineType == "" {
		opts.OutlineType = models.OutlineTypeGuest
	}
	if opts.Lesson2 == "" {
		opts.Lesson2 = "Greet the learner in the second lesson."
	}

	c := Course{
		ShifuBID:   uuid.New().String(),
		ChapterBID: uuid.New().String(),
		Lesson1BID: uuid.New().String(),
		Lesson2BID: uuid.New().String(),
	}

	_, err := h.DB.ExecContext(ctx, `
		INSERT INTO shifu (shifu_bid, variant, title, description, keywords, tts_enabled, tts_provider, tts_voice_id)
		VALUES ($1, 'published', 'Intro to Gophers', 'An end-to-end course.', '["go"]', $2, 'volcengine', 'voice-e2e')`,
		c.ShifuBID, opts.TTSEnabled)
	require.NoError(h.t, err)

	for _, lesson := range []struct {
		bid, title, doc string
	}{
		{c.Lesson1BID, "Lesson 1", opts.Lesson1},
		{c.Lesson2BID, "Lesson 2", opts.Lesson2},
	} {
		_, err = h.DB.ExecContext(ctx, `
			INSERT INTO outline_item (outline_item_bid, shifu_bid, variant, title, type, mdflow)
			VALUES ($1, $2, 'published', $3, $4, $5)`,
			lesson.bid, c.ShifuBID, lesson.title, opts.OutlineType, lesson.doc)
		require.NoError(h.t, err)
	}

	tree := `{
		"bid": "` + c.ShifuBID + `", "type": "shifu", "children": [
			{"bid": "` + c.ChapterBID + `", "type": "outline", "children": [
				{"bid": "` + c.Lesson1BID + `", "type": "outline", "children": [{"id": 1, "type": "block"}]},
				{"bid": "` + c.Lesson2BID + `", "type": "outline", "children": [{"id": 2, "type": "block"}]}
			]}
		]}`
	_, err = h.DB.ExecContext(ctx, `
		INSERT INTO struct_tree (shifu_bid, variant, tree) VALUES ($1, 'published', $2)`,
		c.ShifuBID, tree)
	require.NoError(h.t, err)

	_, err = h.DB.ExecContext(ctx, `
		INSERT INTO auth_user (user_bid, mobile) VALUES ($1, '13800000000')
		ON CONFLICT (user_bid) DO NOTHING`, TestUserBID)
	require.NoError(h.t, err)

	return c
}

// ActiveProgress returns the learner's active progress row for an outline.
func (h *Harness) ActiveProgress(outlineBID string) *models.LearnProgressRecord {
	h.t.Helper()
	rec, err := h.Progress.FindActiveProgress(context.Background(), TestUserBID, outlineBID)
	require.NoError(h.t, err)
	return rec
}
