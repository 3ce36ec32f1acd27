package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/runner"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// stubStores backs the handlers with one in-memory course so requests run
// without a database.
type stubStores struct {
	mu sync.Mutex

	shifu    *models.Shifu
	item     *models.OutlineItem
	tree     *outline.Node
	metas    map[string]outline.Meta
	user     *models.AuthUser
	progress *models.LearnProgressRecord
	statuses map[string]string

	blocks []*models.LearnGeneratedBlock
	audios []*models.LearnGeneratedAudio
	vars   map[string]string
	resets [][]string
}

func newStubStores() *stubStores {
	return &stubStores{
		shifu: &models.Shifu{
			ShifuBID:    "shifu-1",
			Title:       "Intro to Go",
			Description: "A short course.",
			Price:       0,
			Keywords:    []string{"go"},
		},
		item: &models.OutlineItem{
			OutlineItemBID: "lesson-1",
			ShifuBID:       "shifu-1",
			Type:           models.OutlineTypeGuest,
			MDFlow:         "Tell the learner hello.",
		},
		tree: &outline.Node{
			Type: outline.NodeTypeShifu,
			Children: []*outline.Node{
				{BID: "ch-1", Type: outline.NodeTypeOutline, Children: []*outline.Node{
					{BID: "lesson-1", Type: outline.NodeTypeOutline, Children: []*outline.Node{
						{ID: 1, Type: outline.NodeTypeBlock},
					}},
					{BID: "lesson-2", Type: outline.NodeTypeOutline},
				}},
				{BID: "ch-hidden", Type: outline.NodeTypeOutline},
			},
		},
		metas: map[string]outline.Meta{
			"ch-1":      {Title: "Chapter 1"},
			"lesson-1":  {Title: "Lesson 1"},
			"lesson-2":  {Title: "Lesson 2"},
			"ch-hidden": {Title: "Drafts", Hidden: true},
		},
		user: &models.AuthUser{UserBID: "user-1", Mobile: "13800000000"},
		progress: &models.LearnProgressRecord{
			ProgressRecordBID: "prog-1",
			UserBID:           "user-1",
			ShifuBID:          "shifu-1",
			OutlineItemBID:    "lesson-1",
			Status:            models.ProgressInProgress,
			BlockPosition:     0,
		},
		statuses: map[string]string{"lesson-1": models.ProgressInProgress},
		vars:     map[string]string{},
	}
}

func (s *stubStores) GetShifu(ctx context.Context, shifuBID string, previewMode bool) (*models.Shifu, error) {
	if s.shifu == nil || s.shifu.ShifuBID != shifuBID {
		return nil, services.ErrShifuNotFound
	}
	cp := *s.shifu
	return &cp, nil
}

func (s *stubStores) GetStructTree(ctx context.Context, shifuBID string, previewMode bool) (*outline.Node, error) {
	if s.shifu == nil || s.shifu.ShifuBID != shifuBID {
		return nil, services.ErrStructNotFound
	}
	return s.tree, nil
}

func (s *stubStores) GetOutline(ctx context.Context, outlineBID string, previewMode bool) (*models.OutlineItem, error) {
	if s.item == nil || s.item.OutlineItemBID != outlineBID {
		return nil, services.ErrLessonNotFound
	}
	cp := *s.item
	return &cp, nil
}

func (s *stubStores) OutlineMetas(ctx context.Context, shifuBID string, previewMode bool) (map[string]outline.Meta, error) {
	return s.metas, nil
}

func (s *stubStores) GetUser(ctx context.Context, userBID string) (*models.AuthUser, error) {
	cp := *s.user
	return &cp, nil
}

func (s *stubStores) FindActiveProgress(ctx context.Context, userBID, outlineBID string) (*models.LearnProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil || s.progress.OutlineItemBID != outlineBID || s.progress.UserBID != userBID {
		return nil, nil
	}
	cp := *s.progress
	return &cp, nil
}

func (s *stubStores) Create(ctx context.Context, rec *models.LearnProgressRecord) error {
	return fmt.Errorf("unexpected progress create in stub")
}

func (s *stubStores) EnsureProgressChain(ctx context.Context, tree *outline.Node, userBID, shifuBID, targetBID string) error {
	return nil
}

func (s *stubStores) UpdateStatus(ctx context.Context, progressBID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Status = status
	return nil
}

func (s *stubStores) UpdateBlockPosition(ctx context.Context, progressBID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.BlockPosition = position
	return nil
}

func (s *stubStores) StatusByOutline(ctx context.Context, userBID, shifuBID string) (map[string]string, error) {
	return s.statuses, nil
}

func (s *stubStores) ResetActive(ctx context.Context, userBID string, outlineBIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, outlineBIDs)
	return int64(len(outlineBIDs)), nil
}

func (s *stubStores) Append(ctx context.Context, block *models.LearnGeneratedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block.GeneratedBlockBID == "" {
		block.GeneratedBlockBID = uuid.New().String()
	}
	if block.Status == 0 {
		block.Status = models.GeneratedStatusActive
	}
	cp := *block
	s.blocks = append(s.blocks, &cp)
	return nil
}

func (s *stubStores) Get(ctx context.Context, bid string) (*models.LearnGeneratedBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.GeneratedBlockBID == bid {
			cp := *b
			return &cp, nil
		}
	}
	return nil, services.ErrGeneratedBlockNotFound
}

func (s *stubStores) LatestActiveInteraction(ctx context.Context, progressBID string, position int) (*models.LearnGeneratedBlock, error) {
	return nil, nil
}

func (s *stubStores) RecordAnswer(ctx context.Context, bid, content string) error {
	return nil
}

func (s *stubStores) MarkAnswered(ctx context.Context, bid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.GeneratedBlockBID == bid && b.Status == models.GeneratedStatusActive {
			b.Type = models.GeneratedTypeAnswer
			return nil
		}
	}
	return services.ErrGeneratedBlockNotFound
}

func (s *stubStores) MarkObsolete(ctx context.Context, progressBID string, fromPosition int, anchorID int64) (int64, error) {
	return 0, nil
}

func (s *stubStores) ListHistory(ctx context.Context, progressBID string) ([]*models.LearnGeneratedBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LearnGeneratedBlock, 0, len(s.blocks))
	for _, b := range s.blocks {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubStores) React(ctx context.Context, bid, action string) error {
	var liked int16
	switch action {
	case "like":
		liked = 1
	case "dislike":
		liked = -1
	case "none":
		liked = 0
	default:
		return services.ErrInvalidAction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.GeneratedBlockBID == bid {
			b.Liked = liked
			return nil
		}
	}
	return services.ErrGeneratedBlockNotFound
}

func (s *stubStores) Variables(ctx context.Context, userBID, shifuBID string) (map[string]string, error) {
	return s.vars, nil
}

func (s *stubStores) SetVariables(ctx context.Context, userBID, shifuBID string, vars map[string]string) error {
	for k, v := range vars {
		s.vars[k] = v
	}
	return nil
}

func (s *stubStores) ListByBlock(ctx context.Context, generatedBlockBID string) ([]*models.LearnGeneratedAudio, error) {
	return s.audios, nil
}

func (s *stubStores) Insert(ctx context.Context, a *models.LearnGeneratedAudio) error { return nil }

func (s *stubStores) Complete(ctx context.Context, a *models.LearnGeneratedAudio) error { return nil }

func (s *stubStores) Fail(ctx context.Context, audioBID, message string) error { return nil }

// directTx runs each block step without a transaction.
type directTx struct {
	stores runner.StepStores
}

func (t *directTx) Step(ctx context.Context, fn func(runner.StepStores) error) error {
	return fn(t.stores)
}

// scriptedLLM streams a fixed sequence of text chunks.
type scriptedLLM struct {
	parts []string
}

func (l *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	return nil, fmt.Errorf("no scripted completion")
}

func (l *scriptedLLM) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, len(l.parts)+1)
	for _, p := range l.parts {
		ch <- &llm.TextChunk{Content: p}
	}
	ch <- &llm.UsageChunk{Usage: llm.Usage{TotalTokens: 3}}
	close(ch)
	return ch, nil
}

// staticTTSProvider satisfies tts.Provider for handlers that only check
// whether a provider is present.
type staticTTSProvider struct{}

func (staticTTSProvider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Result, error) {
	return &tts.Result{Audio: []byte{0xff}, DurationMS: 10, Format: "mp3", SampleRate: 24000}, nil
}

// stubLock counts acquisitions; err short-circuits Acquire.
type stubLock struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error

	running bool
	seconds int64
}

func (l *stubLock) Acquire(ctx context.Context, userBID, outlineBID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func (l *stubLock) Status(ctx context.Context, userBID, outlineBID string) (bool, int64, error) {
	return l.running, l.seconds, nil
}
