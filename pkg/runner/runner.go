// Package runner executes MarkdownFlow lessons: one Runner per run request
// advances a learner through the parsed blocks of a leaf outline, streaming
// content through the LLM, presenting interactions, validating answers, and
// walking the outline tree at leaf boundaries.
//
// A single step advances the lesson by at most one block (or one boundary
// batch); RunScript chains steps until the engine blocks on learner input,
// the leaf completes, or a step fails. Every step's writes go through one
// transaction so a failed step leaves no partial rows.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/markdownflow/flowrun/pkg/config"
	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/mdflow"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/oss"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// Input modes accepted on a run request.
const (
	InputTypeNormal   = "normal"
	InputTypeAsk      = "ask"
	InputTypeContinue = "continue"
)

// Run directions: whether the engine expects learner input next or is about
// to emit output.
const (
	runInput  = "input"
	runOutput = "output"
)

// Labels for the interactions the engine synthesises for access gates.
const (
	payButtonLabel   = "Unlock course"
	loginButtonLabel = "Sign in"
)

const eventBuffer = 32

// Input is the learner payload of one run call: free text, or one value
// list per declared variable.
type Input struct {
	Text   string
	Values map[string][]string
}

// UnmarshalJSON accepts both wire forms of input: a bare string, or a map
// whose values are strings or string lists.
func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &in.Text)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid input payload: %w", err)
	}
	in.Values = make(map[string][]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '[' {
			var list []string
			if err := json.Unmarshal(v, &list); err != nil {
				return fmt.Errorf("invalid input list for %q: %w", k, err)
			}
			in.Values[k] = list
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("invalid input value for %q: %w", k, err)
		}
		in.Values[k] = []string{s}
	}
	return nil
}

// IsEmpty reports whether the call carries no usable learner input. A value
// of whitespace is not empty; the validation layer gets to reject it.
func (in Input) IsEmpty() bool {
	if in.Text != "" {
		return false
	}
	for _, vals := range in.Values {
		for _, v := range vals {
			if v != "" {
				return false
			}
		}
	}
	return true
}

// carries reports whether the input delivers the given system button value.
func (in Input) carries(value string) bool {
	if in.Text == value {
		return true
	}
	for _, vals := range in.Values {
		for _, v := range vals {
			if v == value {
				return true
			}
		}
	}
	return false
}

// TTSDeps is the synthesis wiring shared by every run. Nil disables audio
// regardless of course settings.
type TTSDeps struct {
	Provider tts.Provider
	Pool     *tts.Pool
	Uploader oss.Uploader
}

// Deps bundles the collaborators a Runner needs. Payment, Moderator and TTS
// are optional; the other fields must be set.
type Deps struct {
	Config   *config.Config
	LLM      llm.Provider
	Shifu    ShifuStore
	Outline  OutlineStore
	Progress ProgressStore
	Blocks   BlockStore
	Users    UserStore
	Profile  ProfileStore
	Usage    tts.UsageRecorder
	Tx       TxRunner

	Payment   PaymentChecker
	Moderator Moderator
	TTS       *TTSDeps
}

// Params identifies one run request.
type Params struct {
	UserBID    string
	ShifuBID   string
	OutlineBID string
	Preview    bool

	Input     Input
	InputType string
	ReloadBID string
}

// Runner is the per-request state machine for one (user, outline, preview)
// triple. It is not safe for concurrent use; the run lock guarantees one
// runner per learner and outline.
type Runner struct {
	deps   Deps
	params Params

	user     *models.AuthUser
	shifu    *models.Shifu
	outline  *models.OutlineItem
	tree     *outline.Node
	metas    map[string]outline.Meta
	progress *models.LearnProgressRecord
	blocks   []mdflow.Block
	scene    int

	runType     string
	canContinue bool
	inputType   string
	input       Input

	// lastPosition anchors ask reloads. It is set on the first ask of a
	// run and deliberately never reset, even after normal input resumes.
	lastPosition int
}

// New loads everything a run needs and positions the cursor. A learner who
// has never entered the outline gets a fresh progress chain.
func New(ctx context.Context, deps Deps, p Params) (*Runner, error) {
	if p.InputType == "" {
		p.InputType = InputTypeNormal
	}

	shifu, err := deps.Shifu.GetShifu(ctx, p.ShifuBID, p.Preview)
	if err != nil {
		return nil, err
	}
	item, err := deps.Outline.GetOutline(ctx, p.OutlineBID, p.Preview)
	if err != nil {
		return nil, err
	}
	if item.ShifuBID != p.ShifuBID {
		return nil, services.ErrLessonNotFound
	}
	tree, err := deps.Outline.GetStructTree(ctx, p.ShifuBID, p.Preview)
	if err != nil {
		return nil, err
	}
	metas, err := deps.Outline.OutlineMetas(ctx, p.ShifuBID, p.Preview)
	if err != nil {
		return nil, err
	}
	user, err := deps.Users.GetUser(ctx, p.UserBID)
	if err != nil {
		return nil, err
	}

	progress, err := deps.Progress.FindActiveProgress(ctx, p.UserBID, p.OutlineBID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		if err := deps.Progress.EnsureProgressChain(ctx, tree, p.UserBID, p.ShifuBID, p.OutlineBID); err != nil {
			return nil, err
		}
		progress, err = deps.Progress.FindActiveProgress(ctx, p.UserBID, p.OutlineBID)
		if err != nil {
			return nil, err
		}
		if progress == nil {
			return nil, services.ErrLessonNotFound
		}
	}

	scene := models.SceneProduction
	if p.Preview {
		scene = models.ScenePreview
	}
	runType := runOutput
	if p.InputType == InputTypeNormal {
		runType = runInput
	}

	return &Runner{
		deps:         deps,
		params:       p,
		user:         user,
		shifu:        shifu,
		outline:      item,
		tree:         tree,
		metas:        metas,
		progress:     progress,
		blocks:       mdflow.Parse(item.MDFlow),
		scene:        scene,
		runType:      runType,
		canContinue:  true,
		inputType:    p.InputType,
		input:        p.Input,
		lastPosition: -1,
	}, nil
}

// HasNext reports whether another step can run without new learner input.
func (r *Runner) HasNext() bool {
	return r.canContinue
}

// Run advances the lesson by at most one block step and closes the channel
// when the step completes. Most callers want RunScript; Run exists for
// drivers that sequence steps themselves. Failures surface as an error
// frame; Run emits no done frame.
func (r *Runner) Run(ctx context.Context) <-chan events.RunEvent {
	ch := make(chan events.RunEvent, eventBuffer)
	go func() {
		defer close(ch)
		emit := func(ev events.RunEvent) { sendEvent(ctx, ch, ev) }
		if err := r.step(ctx, emit); err != nil {
			r.emitError(emit, err)
		}
	}()
	return ch
}

// RunScript chains steps until the engine blocks on learner input, the leaf
// completes, or a step fails. After the first step the input mode switches
// to continue. The stream always terminates with a done frame; failures
// emit an error frame first.
func (r *Runner) RunScript(ctx context.Context) <-chan events.RunEvent {
	ch := make(chan events.RunEvent, eventBuffer)
	go func() {
		defer close(ch)
		emit := func(ev events.RunEvent) { sendEvent(ctx, ch, ev) }

		slog.Info("Starting run",
			"user_bid", r.params.UserBID,
			"outline_bid", r.params.OutlineBID,
			"input_type", r.inputType,
			"preview", r.params.Preview,
			"block_position", r.progress.BlockPosition)

		if r.params.ReloadBID != "" {
			if err := r.reload(ctx); err != nil {
				r.emitError(emit, err)
				emit(r.event(events.TypeDone, "", ""))
				return
			}
		}

		// A well-formed lesson never needs more steps than blocks plus a
		// handful of boundary batches; the bound stops a cycling bug from
		// wedging the stream.
		maxSteps := 2*len(r.blocks) + 8
		for i := 0; i < maxSteps; i++ {
			if err := r.step(ctx, emit); err != nil {
				r.emitError(emit, err)
				break
			}
			if !r.HasNext() || ctx.Err() != nil {
				break
			}
			r.inputType = InputTypeContinue
			r.input = Input{}
		}
		emit(r.event(events.TypeDone, "", ""))
	}()
	return ch
}

// step advances the lesson by at most one block or one boundary batch.
func (r *Runner) step(ctx context.Context, emit func(events.RunEvent)) error {
	if err := r.checkAccess(ctx); err != nil {
		return r.surfaceAccessError(emit, err)
	}
	if err := r.enterOutline(ctx, emit); err != nil {
		return err
	}

	if r.inputType == InputTypeAsk {
		return r.handleAsk(ctx, emit)
	}
	if r.progress.BlockPosition >= len(r.blocks) {
		return r.finishLeaf(ctx, emit)
	}

	block := r.blocks[r.progress.BlockPosition]
	if block.Type == mdflow.BlockTypeInteraction {
		return r.handleInteraction(ctx, emit, block)
	}

	// A normal call landing on a content block means the client lost track
	// of the run direction. Flip and let the continue loop stream it.
	if r.inputType == InputTypeNormal && r.runType == runInput {
		r.runType = runOutput
		r.canContinue = true
		return nil
	}
	return r.handleContent(ctx, emit, block)
}

// checkAccess enforces the outline's entry gate. Preview runs bypass both
// gates; the playground author is inspecting a draft.
func (r *Runner) checkAccess(ctx context.Context) error {
	if r.params.Preview {
		return nil
	}
	switch r.outline.Type {
	case models.OutlineTypeTrial:
		if r.user == nil || r.user.Mobile == "" {
			return &services.NotLoginError{OutlineBID: r.params.OutlineBID}
		}
	case models.OutlineTypeNormal:
		paid, err := r.hasPaid(ctx)
		if err != nil {
			return err
		}
		if !paid {
			return &services.PaidError{ShifuBID: r.params.ShifuBID}
		}
	}
	return nil
}

// surfaceAccessError turns the payment and login gates into interactions
// the client can answer; anything else fails the step.
func (r *Runner) surfaceAccessError(emit func(events.RunEvent), err error) error {
	var paid *services.PaidError
	var login *services.NotLoginError
	var conf string
	switch {
	case errors.As(err, &paid):
		conf = mdflow.SystemInteraction(payButtonLabel, mdflow.SysButtonPay)
	case errors.As(err, &login):
		conf = mdflow.SystemInteraction(loginButtonLabel, mdflow.SysButtonLogin)
	default:
		return err
	}
	slog.Info("Surfacing access gate",
		"user_bid", r.params.UserBID,
		"outline_bid", r.params.OutlineBID,
		"gate", err.Error())
	r.runType = runInput
	r.canContinue = false
	emit(r.event(events.TypeInteraction, "", conf))
	return nil
}

func (r *Runner) hasPaid(ctx context.Context) (bool, error) {
	if r.deps.Payment == nil {
		return true, nil
	}
	return r.deps.Payment.HasPaid(ctx, r.params.UserBID, r.params.ShifuBID)
}

// advance moves the cursor past the current block without emitting.
func (r *Runner) advance(ctx context.Context) error {
	next := r.progress.BlockPosition + 1
	err := r.deps.Tx.Step(ctx, func(s StepStores) error {
		return s.Progress.UpdateBlockPosition(ctx, r.progress.ProgressRecordBID, next)
	})
	if err != nil {
		return err
	}
	r.progress.BlockPosition = next
	r.runType = runOutput
	r.canContinue = true
	return nil
}

// reload rewinds the cursor to a previously generated block so the next
// steps regenerate it. Ask reloads only re-anchor; they never touch
// persisted rows.
func (r *Runner) reload(ctx context.Context) error {
	target, err := r.deps.Blocks.Get(ctx, r.params.ReloadBID)
	if err != nil {
		return err
	}
	if target.ProgressRecordBID != r.progress.ProgressRecordBID {
		return services.ErrGeneratedBlockNotFound
	}
	if target.Type == models.GeneratedTypeAsk || target.Type == models.GeneratedTypeAnswer {
		r.lastPosition = target.Position
		return nil
	}

	err = r.deps.Tx.Step(ctx, func(s StepStores) error {
		if _, err := s.Blocks.MarkObsolete(ctx, r.progress.ProgressRecordBID, target.Position, target.ID); err != nil {
			return err
		}
		if err := s.Progress.UpdateBlockPosition(ctx, r.progress.ProgressRecordBID, target.Position); err != nil {
			return err
		}
		return s.Progress.UpdateStatus(ctx, r.progress.ProgressRecordBID, models.ProgressInProgress)
	})
	if err != nil {
		return err
	}
	r.progress.BlockPosition = target.Position
	r.progress.Status = models.ProgressInProgress

	slog.Info("Reloaded block",
		"user_bid", r.params.UserBID,
		"outline_bid", r.params.OutlineBID,
		"generated_block_bid", target.GeneratedBlockBID,
		"position", target.Position)
	return nil
}

// newBlockRow fills the envelope every persisted emission shares.
func (r *Runner) newBlockRow(typ, role string, position int, conf, content string) *models.LearnGeneratedBlock {
	return &models.LearnGeneratedBlock{
		GeneratedBlockBID: uuid.New().String(),
		ProgressRecordBID: r.progress.ProgressRecordBID,
		UserBID:           r.params.UserBID,
		ShifuBID:          r.params.ShifuBID,
		OutlineItemBID:    r.params.OutlineBID,
		Type:              typ,
		Role:              role,
		Position:          position,
		BlockContentConf:  conf,
		GeneratedContent:  content,
	}
}

// event fills the envelope every frame shares.
func (r *Runner) event(typ, blockBID string, content any) events.RunEvent {
	return events.RunEvent{
		OutlineBID:        r.params.OutlineBID,
		GeneratedBlockBID: blockBID,
		Type:              typ,
		Content:           content,
	}
}

// emitError surfaces a failed step on the stream.
func (r *Runner) emitError(emit func(events.RunEvent), err error) {
	slog.Error("Run step failed",
		"user_bid", r.params.UserBID,
		"outline_bid", r.params.OutlineBID,
		"error", err)
	emit(r.event(events.TypeError, "", err.Error()))
}

func sendEvent(ctx context.Context, ch chan<- events.RunEvent, ev events.RunEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
