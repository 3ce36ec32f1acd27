package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/markdownflow/flowrun/pkg/config"
	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/services"
)

// memStore is an in-memory stand-in for every store interface the runner
// consumes, mirroring the row semantics of the SQL services.
type memStore struct {
	shifu    *models.Shifu
	outlines map[string]*models.OutlineItem
	tree     *outline.Node
	metas    map[string]outline.Meta
	users    map[string]*models.AuthUser

	mu       sync.Mutex
	progress []*models.LearnProgressRecord
	blocks   []*models.LearnGeneratedBlock
	vars     map[string]string
	nextID   int64
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetShifu(_ context.Context, shifuBID string, _ bool) (*models.Shifu, error) {
	if m.shifu == nil || m.shifu.ShifuBID != shifuBID {
		return nil, services.ErrShifuNotFound
	}
	cp := *m.shifu
	return &cp, nil
}

func (m *memStore) GetOutline(_ context.Context, outlineBID string, _ bool) (*models.OutlineItem, error) {
	item, ok := m.outlines[outlineBID]
	if !ok {
		return nil, services.ErrLessonNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) GetStructTree(_ context.Context, _ string, _ bool) (*outline.Node, error) {
	if m.tree == nil {
		return nil, services.ErrStructNotFound
	}
	return m.tree, nil
}

func (m *memStore) OutlineMetas(_ context.Context, _ string, _ bool) (map[string]outline.Meta, error) {
	return m.metas, nil
}

func (m *memStore) GetUser(_ context.Context, userBID string) (*models.AuthUser, error) {
	u, ok := m.users[userBID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindActiveProgress(_ context.Context, userBID, outlineBID string) (*models.LearnProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.progress) - 1; i >= 0; i-- {
		rec := m.progress[i]
		if rec.UserBID == userBID && rec.OutlineItemBID == outlineBID && rec.Status != models.ProgressReset {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, rec *models.LearnProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ProgressRecordBID == "" {
		rec.ProgressRecordBID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.ProgressNotStarted
	}
	rec.ID = m.id()
	cp := *rec
	m.progress = append(m.progress, &cp)
	return nil
}

func (m *memStore) EnsureProgressChain(ctx context.Context, tree *outline.Node, userBID, shifuBID, targetBID string) error {
	path := tree.PathTo(targetBID)
	if path == nil {
		return services.ErrLessonNotFound
	}
	for _, node := range path {
		existing, err := m.FindActiveProgress(ctx, userBID, node.BID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := m.Create(ctx, &models.LearnProgressRecord{
			UserBID:        userBID,
			ShifuBID:       shifuBID,
			OutlineItemBID: node.BID,
			Status:         models.ProgressNotStarted,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, progressBID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.progress {
		if rec.ProgressRecordBID == progressBID {
			rec.Status = status
		}
	}
	return nil
}

func (m *memStore) UpdateBlockPosition(_ context.Context, progressBID string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.progress {
		if rec.ProgressRecordBID == progressBID {
			rec.BlockPosition = position
		}
	}
	return nil
}

func (m *memStore) StatusByOutline(_ context.Context, userBID, shifuBID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make(map[string]string)
	for _, rec := range m.progress {
		if rec.UserBID == userBID && rec.ShifuBID == shifuBID && rec.Status != models.ProgressReset {
			statuses[rec.OutlineItemBID] = rec.Status
		}
	}
	return statuses, nil
}

func (m *memStore) Append(_ context.Context, block *models.LearnGeneratedBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block.GeneratedBlockBID == "" {
		block.GeneratedBlockBID = uuid.New().String()
	}
	if block.Status == 0 {
		block.Status = models.GeneratedStatusActive
	}
	block.ID = m.id()
	cp := *block
	m.blocks = append(m.blocks, &cp)
	return nil
}

func (m *memStore) Get(_ context.Context, bid string) (*models.LearnGeneratedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.GeneratedBlockBID == bid {
			cp := *b
			return &cp, nil
		}
	}
	return nil, services.ErrGeneratedBlockNotFound
}

func (m *memStore) LatestActiveInteraction(_ context.Context, progressBID string, position int) (*models.LearnGeneratedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.blocks) - 1; i >= 0; i-- {
		b := m.blocks[i]
		if b.ProgressRecordBID == progressBID && b.Position == position &&
			b.Type == models.GeneratedTypeInteraction && b.Status == models.GeneratedStatusActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) RecordAnswer(_ context.Context, bid, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.GeneratedBlockBID == bid && b.Status == models.GeneratedStatusActive {
			b.Role = models.RoleStudent
			b.GeneratedContent = content
			return nil
		}
	}
	return services.ErrGeneratedBlockNotFound
}

func (m *memStore) MarkAnswered(_ context.Context, bid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.GeneratedBlockBID == bid && b.Status == models.GeneratedStatusActive {
			b.Type = models.GeneratedTypeAnswer
			return nil
		}
	}
	return services.ErrGeneratedBlockNotFound
}

func (m *memStore) MarkObsolete(_ context.Context, progressBID string, fromPosition int, anchorID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.blocks {
		if b.ProgressRecordBID == progressBID && b.Status == models.GeneratedStatusActive &&
			b.Position >= fromPosition && b.ID >= anchorID {
			b.Status = models.GeneratedStatusObsolete
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListHistory(_ context.Context, progressBID string) ([]*models.LearnGeneratedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LearnGeneratedBlock
	for _, b := range m.blocks {
		if b.ProgressRecordBID == progressBID && b.Status == models.GeneratedStatusActive {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Variables(_ context.Context, _, _ string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SetVariables(_ context.Context, _, _ string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range vars {
		m.vars[k] = v
	}
	return nil
}

// tts.AudioStore; the runner tests never enable synthesis.
func (m *memStore) Insert(_ context.Context, _ *models.LearnGeneratedAudio) error   { return nil }
func (m *memStore) Complete(_ context.Context, _ *models.LearnGeneratedAudio) error { return nil }
func (m *memStore) Fail(_ context.Context, _, _ string) error                       { return nil }

// activeBlocks returns the active rows in insertion order.
func (m *memStore) activeBlocks() []*models.LearnGeneratedBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LearnGeneratedBlock
	for _, b := range m.blocks {
		if b.Status == models.GeneratedStatusActive {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out
}

// progressFor returns the active progress row for an outline, or nil.
func (m *memStore) progressFor(outlineBID string) *models.LearnProgressRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.progress) - 1; i >= 0; i-- {
		rec := m.progress[i]
		if rec.OutlineItemBID == outlineBID && rec.Status != models.ProgressReset {
			cp := *rec
			return &cp
		}
	}
	return nil
}

// fakeTx runs step functions against the shared fakes without a real
// transaction.
type fakeTx struct {
	stores StepStores
}

func (t *fakeTx) Step(_ context.Context, fn func(StepStores) error) error {
	return fn(t.stores)
}

// fakeLLM replays scripted responses and records every request it saw.
type fakeLLM struct {
	mu        sync.Mutex
	completes []*llm.Result
	streams   [][]llm.Chunk
	requests  []llm.Request
}

func (f *fakeLLM) scriptComplete(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, &llm.Result{Content: content})
}

func (f *fakeLLM) scriptStream(parts ...string) {
	chunks := make([]llm.Chunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &llm.TextChunk{Content: p})
	}
	chunks = append(chunks, &llm.UsageChunk{Usage: llm.Usage{TotalTokens: 7}})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, chunks)
}

func (f *fakeLLM) scriptStreamError(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, []llm.Chunk{&llm.ErrorChunk{Message: message}})
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.completes) == 0 {
		return nil, fmt.Errorf("no scripted completion")
	}
	res := f.completes[0]
	f.completes = f.completes[1:]
	return res, nil
}

func (f *fakeLLM) Stream(_ context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.streams) == 0 {
		return nil, fmt.Errorf("no scripted stream")
	}
	script := f.streams[0]
	f.streams = f.streams[1:]
	ch := make(chan llm.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeModerator rejects exact texts with canned feedback.
type fakeModerator struct {
	blocked map[string]string
}

func (f *fakeModerator) CheckText(_ context.Context, _, text string) (<-chan string, error) {
	ch := make(chan string, 1)
	if msg, ok := f.blocked[text]; ok {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

// fakePayment reports a fixed paid set.
type fakePayment struct {
	paid map[string]bool
}

func (f *fakePayment) HasPaid(_ context.Context, userBID, shifuBID string) (bool, error) {
	return f.paid[userBID+"/"+shifuBID], nil
}

// fixture wires a runner against the in-memory fakes. The default course is
// one guest leaf ("lesson-1") under one chapter, with a sibling leaf
// ("lesson-2") for completion descent.
type fixture struct {
	store *memStore
	llm   *fakeLLM
	deps  Deps
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()
	store := &memStore{
		shifu: &models.Shifu{ShifuBID: "shifu-1", Title: "Course"},
		outlines: map[string]*models.OutlineItem{
			"lesson-1": {
				OutlineItemBID: "lesson-1",
				ShifuBID:       "shifu-1",
				Title:          "Lesson 1",
				Type:           models.OutlineTypeGuest,
				MDFlow:         doc,
			},
		},
		tree: &outline.Node{
			BID: "shifu-1", Type: outline.NodeTypeShifu,
			Children: []*outline.Node{
				{BID: "ch-1", Type: outline.NodeTypeOutline, Children: []*outline.Node{
					{BID: "lesson-1", Type: outline.NodeTypeOutline, Children: []*outline.Node{
						{ID: 1, Type: outline.NodeTypeBlock},
					}},
					{BID: "lesson-2", Type: outline.NodeTypeOutline},
				}},
			},
		},
		metas: map[string]outline.Meta{
			"ch-1":     {Title: "Chapter 1"},
			"lesson-1": {Title: "Lesson 1"},
			"lesson-2": {Title: "Lesson 2"},
		},
		users: map[string]*models.AuthUser{
			"user-1": {UserBID: "user-1", Mobile: "13800000000"},
		},
		vars: make(map[string]string),
	}
	provider := &fakeLLM{}
	deps := Deps{
		Config: &config.Config{
			DefaultLLMModel:        "test-model",
			DefaultLLMTemperature:  0.7,
			NextChapterButtonLabel: "Next chapter",
		},
		LLM:      provider,
		Shifu:    store,
		Outline:  store,
		Progress: store,
		Blocks:   store,
		Users:    store,
		Profile:  store,
		Tx:       &fakeTx{stores: StepStores{Progress: store, Blocks: store, Audio: store}},
	}
	return &fixture{store: store, llm: provider, deps: deps}
}

func (f *fixture) params() Params {
	return Params{UserBID: "user-1", ShifuBID: "shifu-1", OutlineBID: "lesson-1"}
}

// runScript builds a runner and drains its full stream.
func (f *fixture) runScript(t *testing.T, p Params) []events.RunEvent {
	t.Helper()
	r, err := New(context.Background(), f.deps, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out []events.RunEvent
	for ev := range r.RunScript(context.Background()) {
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []events.RunEvent) []string {
	types := make([]string, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	return types
}

func ofType(evs []events.RunEvent, typ string) []events.RunEvent {
	var out []events.RunEvent
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func joinContent(evs []events.RunEvent) string {
	var sb []byte
	for _, ev := range evs {
		if ev.Type == events.TypeContent {
			sb = append(sb, ev.Content.(string)...)
		}
	}
	return string(sb)
}
