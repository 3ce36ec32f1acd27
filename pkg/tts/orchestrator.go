package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/oss"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/visual"
)

// defaultSegmentTimeout bounds one provider call; finalisation also waits
// this long per outstanding segment before giving up on it.
const defaultSegmentTimeout = 60 * time.Second

var errSegmentTimeout = errors.New("segment synthesis timed out")

// AudioStore persists finalised audio parts. *services.AudioService
// satisfies it.
type AudioStore interface {
	Insert(ctx context.Context, a *models.LearnGeneratedAudio) error
	Complete(ctx context.Context, a *models.LearnGeneratedAudio) error
	Fail(ctx context.Context, audioBID, message string) error
}

// UsageRecorder writes TTS metering rows. *services.UsageService satisfies
// it.
type UsageRecorder interface {
	RecordTTSUsage(ctx context.Context, p services.TTSUsageParams) string
}

// Options configures an Orchestrator for one generated block.
type Options struct {
	Provider Provider
	Pool     *Pool
	Voice    VoiceProfile

	// Emit receives every audio event. It must not be nil for streaming
	// runs; the on-demand path may leave it nil.
	Emit func(events.RunEvent)

	UserBID           string
	ShifuBID          string
	OutlineBID        string
	ProgressRecordBID string
	BlockBID          string
	Scene             int

	Uploader oss.Uploader
	Audio    AudioStore
	Usage    UsageRecorder

	MaxSegmentChars int
	SegmentTimeout  time.Duration
}

// segmentResult is the outcome of one synthesis task.
type segmentResult struct {
	index      int
	text       string
	audio      []byte
	durationMS int
	sampleRate int
	latencyMS  int
	err        error
}

// part is one audio part of a block: the text between two visual boundaries,
// with its own segmenter and synthesis state. A part's position is assigned
// when it opens and is only kept if the part produces segments.
type part struct {
	position int
	audioBID string
	usageBID string // reserved request-level usage row id

	seg       *segmenter
	closed    bool
	submitted int

	// Guarded by the orchestrator mutex.
	completed   map[int]*segmentResult
	nextYield   int
	succeeded   int
	failed      int
	audioChunks [][]byte
	durations   []int
	textRunes   int
	sampleRate  int
	held        *events.AudioSegment // closed-part success awaiting the final flag

	pending sync.WaitGroup
}

// Orchestrator drives TTS for one generated block. It splits the streamed
// text into parts at visual boundaries, runs one sub-processor (segmenter)
// per part, fans segment synthesis onto the shared pool, and re-serialises
// the results so audio_segment events leave in order: ascending
// segment_index within a part, and a later part never interleaves before an
// earlier part has finished emitting.
type Orchestrator struct {
	opts           Options
	ctx            context.Context
	maxChars       int
	segmentTimeout time.Duration

	mu         sync.Mutex
	buf        strings.Builder
	scanOffset int // byte offset past the last consumed visual
	fedThrough int // byte offset already fed to a sub-processor
	parts      []*part
	open       *part
	emitHead   int // index of the part currently allowed to emit
	slideIndex int
	nextPos    int
	finalized  bool
	done       bool
}

// NewOrchestrator creates an orchestrator bound to the given run context.
// Cancelling ctx aborts outstanding synthesis.
func NewOrchestrator(ctx context.Context, opts Options) *Orchestrator {
	o := &Orchestrator{
		opts:           opts,
		ctx:            ctx,
		maxChars:       opts.MaxSegmentChars,
		segmentTimeout: opts.SegmentTimeout,
	}
	if o.maxChars < 2 {
		o.maxChars = defaultMaxSegmentChars
	}
	if o.segmentTimeout <= 0 {
		o.segmentTimeout = defaultSegmentTimeout
	}
	o.mu.Lock()
	o.openPartLocked()
	o.mu.Unlock()
	return o
}

// ProcessChunk appends one streamed text chunk. Any visual boundary that
// completed with this chunk closes the open part, emits a new_slide event
// and opens the part that follows the visual.
func (o *Orchestrator) ProcessChunk(text string) {
	if text == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized {
		return
	}
	o.buf.WriteString(text)
	full := o.buf.String()

	for {
		m := visual.FindEarliestCompleteVisual(full[o.scanOffset:])
		if m == nil {
			break
		}
		start := o.scanOffset + m.Start
		end := o.scanOffset + m.End
		if start > o.fedThrough {
			o.feedOpenLocked(full[o.fedThrough:start])
		}
		o.closeOpenLocked()
		o.openPartLocked()
		o.emitSlideLocked(m, start, end)
		o.scanOffset = end
		if end > o.fedThrough {
			o.fedThrough = end
		}
	}

	if len(full) > o.fedThrough {
		o.feedOpenLocked(full[o.fedThrough:])
		o.fedThrough = len(full)
	}
}

// openPartLocked starts the next part. Its position is provisional until the
// part closes with at least one submitted segment.
func (o *Orchestrator) openPartLocked() {
	p := &part{
		position:  o.nextPos,
		audioBID:  uuid.New().String(),
		usageBID:  uuid.New().String(),
		seg:       newSegmenter(o.maxChars),
		completed: make(map[int]*segmentResult),
	}
	o.open = p
	o.parts = append(o.parts, p)
}

func (o *Orchestrator) feedOpenLocked(text string) {
	for _, seg := range o.open.seg.feed(text) {
		o.submitLocked(o.open, seg)
	}
}

// closeOpenLocked flushes and closes the open part. A part that never
// submitted a segment is dropped and its position is reused by the next
// part.
func (o *Orchestrator) closeOpenLocked() {
	p := o.open
	if p == nil {
		return
	}
	for _, seg := range p.seg.flush() {
		o.submitLocked(p, seg)
	}
	p.closed = true
	o.open = nil
	if p.submitted == 0 {
		o.parts = o.parts[:len(o.parts)-1]
		return
	}
	o.nextPos++
	o.flushLocked()
}

// submitLocked queues one segment for synthesis.
func (o *Orchestrator) submitLocked(p *part, text string) {
	idx := p.submitted
	p.submitted++
	p.textRunes += utf8.RuneCountInString(text)
	p.pending.Add(1)
	err := o.opts.Pool.Submit(func() {
		defer p.pending.Done()
		o.synthesize(p, idx, text)
	})
	if err != nil {
		p.pending.Done()
		slog.Warn("TTS segment dropped, pool rejected task",
			"generated_block_bid", o.opts.BlockBID,
			"position", p.position,
			"segment_index", idx,
			"error", err)
		o.recordResultLocked(p, &segmentResult{index: idx, text: text, err: err})
	}
}

// synthesize runs on a pool worker.
func (o *Orchestrator) synthesize(p *part, idx int, text string) {
	ctx, cancel := context.WithTimeout(o.ctx, o.segmentTimeout)
	defer cancel()

	started := time.Now()
	res, err := o.opts.Provider.Synthesize(ctx, text, o.opts.Voice)
	latency := int(time.Since(started).Milliseconds())

	out := &segmentResult{index: idx, text: text, latencyMS: latency}
	if err != nil {
		out.err = err
		slog.Warn("TTS segment synthesis failed",
			"generated_block_bid", o.opts.BlockBID,
			"position", p.position,
			"segment_index", idx,
			"error", err)
	} else {
		out.audio = res.Audio
		out.durationMS = res.DurationMS
		out.sampleRate = res.SampleRate
		if o.opts.Usage != nil {
			o.opts.Usage.RecordTTSUsage(o.ctx, services.TTSUsageParams{
				ParentUsageBID:    p.usageBID,
				UserBID:           o.opts.UserBID,
				ShifuBID:          o.opts.ShifuBID,
				OutlineItemBID:    o.opts.OutlineBID,
				GeneratedBlockBID: o.opts.BlockBID,
				Scene:             o.opts.Scene,
				Provider:          o.opts.Voice.Provider,
				Model:             o.opts.Voice.Model,
				RecordLevel:       models.RecordLevelSegment,
				WordCount:         utf8.RuneCountInString(text),
				DurationMS:        res.DurationMS,
				LatencyMS:         latency,
				SegmentIndex:      idx,
				Succeeded:         true,
			})
		}
	}

	o.mu.Lock()
	o.recordResultLocked(p, out)
	o.mu.Unlock()
}

// recordResultLocked files one result and emits whatever became ready.
func (o *Orchestrator) recordResultLocked(p *part, res *segmentResult) {
	if res.index < p.nextYield {
		return // finalisation already gave up on this segment
	}
	if _, exists := p.completed[res.index]; exists {
		return
	}
	p.completed[res.index] = res
	o.flushLocked()
}

// flushLocked emits ready segments in order. Only the part at emitHead may
// emit; it advances once that part is closed and fully yielded.
func (o *Orchestrator) flushLocked() {
	for o.emitHead < len(o.parts) {
		p := o.parts[o.emitHead]
		for {
			res, ok := p.completed[p.nextYield]
			if !ok {
				break
			}
			delete(p.completed, p.nextYield)
			idx := p.nextYield
			p.nextYield++

			if res.err != nil || len(res.audio) == 0 {
				p.failed++
				continue
			}
			p.succeeded++
			p.audioChunks = append(p.audioChunks, res.audio)
			p.durations = append(p.durations, res.durationMS)
			if p.sampleRate == 0 && res.sampleRate > 0 {
				p.sampleRate = res.sampleRate
			}
			seg := events.AudioSegment{
				Position:     p.position,
				SegmentIndex: idx,
				AudioData:    base64.StdEncoding.EncodeToString(res.audio),
				DurationMS:   res.durationMS,
			}
			if p.closed {
				// Later segments may still fail, so the last success of a
				// closed part is held back until the part fully yields and
				// then carries the final flag.
				if p.held != nil && !o.done {
					o.emitEvent(events.TypeAudioSegment, *p.held)
				}
				p.held = &seg
			} else if !o.done {
				o.emitEvent(events.TypeAudioSegment, seg)
			}
		}
		if p.closed && p.nextYield == p.submitted {
			if p.held != nil {
				p.held.IsFinal = true
				if !o.done {
					o.emitEvent(events.TypeAudioSegment, *p.held)
				}
				p.held = nil
			}
			o.emitHead++
			continue
		}
		break
	}
}

func (o *Orchestrator) emitSlideLocked(m *visual.Match, start, end int) {
	o.emitEvent(events.TypeNewSlide, events.NewSlide{
		SlideID:           uuid.New().String(),
		GeneratedBlockBID: o.opts.BlockBID,
		SlideIndex:        o.slideIndex,
		AudioPosition:     o.open.position,
		VisualKind:        string(m.Type),
		SegmentType:       string(m.Type),
		SegmentContent:    m.Content,
		SourceSpan:        [2]int{start, end},
		IsPlaceholder:     false,
	})
	o.slideIndex++
}

func (o *Orchestrator) emitEvent(typ string, content any) {
	if o.opts.Emit == nil {
		return
	}
	o.opts.Emit(events.RunEvent{
		OutlineBID:        o.opts.OutlineBID,
		GeneratedBlockBID: o.opts.BlockBID,
		Type:              typ,
		Content:           content,
	})
}

// Finalize closes the open part, waits for outstanding synthesis, joins each
// part into one MP3, uploads it, persists the audio rows and emits
// audio_complete events in ascending position order. It returns the
// completed rows.
func (o *Orchestrator) Finalize(ctx context.Context) ([]*models.LearnGeneratedAudio, error) {
	return o.finalize(ctx, true)
}

// FinalizePreview is Finalize without upload or persistence: parts still
// synthesise and emit, audio_complete carries an empty URL and a real
// audio_bid.
func (o *Orchestrator) FinalizePreview(ctx context.Context) ([]*models.LearnGeneratedAudio, error) {
	return o.finalize(ctx, false)
}

type partOutput struct {
	p      *part
	row    *models.LearnGeneratedAudio
	joined []byte
	ok     bool
	err    error
}

func (o *Orchestrator) finalize(ctx context.Context, persist bool) ([]*models.LearnGeneratedAudio, error) {
	o.mu.Lock()
	if o.finalized {
		o.mu.Unlock()
		return nil, fmt.Errorf("audio orchestrator already finalised")
	}
	o.finalized = true
	o.closeOpenLocked()
	parts := make([]*part, len(o.parts))
	copy(parts, o.parts)
	o.mu.Unlock()

	for _, p := range parts {
		o.awaitPart(p)
	}

	o.mu.Lock()
	o.done = true
	outputs := make([]*partOutput, 0, len(parts))
	for _, p := range parts {
		if p.succeeded == 0 {
			// Nothing synthesised: drop the part, no row, no event.
			slog.Warn("Dropping audio part with no successful segments",
				"generated_block_bid", o.opts.BlockBID,
				"position", p.position,
				"segments", p.submitted)
			continue
		}
		outputs = append(outputs, o.buildOutputLocked(p))
	}
	o.mu.Unlock()

	var persistErr error
	if persist {
		persistErr = o.persistOutputs(ctx, outputs)
	} else {
		for _, out := range outputs {
			out.row.Status = models.AudioStatusCompleted
			out.ok = true
		}
	}

	rows := make([]*models.LearnGeneratedAudio, 0, len(outputs))
	for _, out := range outputs {
		o.recordPartUsage(ctx, out)
		if !out.ok {
			continue
		}
		o.emitEvent(events.TypeAudioComplete, events.AudioComplete{
			Position:   out.row.Position,
			AudioURL:   out.row.OSSURL,
			AudioBID:   out.row.AudioBID,
			DurationMS: out.row.DurationMS,
		})
		rows = append(rows, out.row)
	}
	return rows, persistErr
}

// awaitPart waits for the part's outstanding syntheses, bounded by the
// per-segment timeout for each submitted segment, then writes timeout
// placeholders for anything still missing so emission can advance.
func (o *Orchestrator) awaitPart(p *part) {
	waitFor := o.segmentTimeout
	if p.submitted > 1 {
		waitFor = time.Duration(p.submitted) * o.segmentTimeout
	}

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		slog.Warn("Timed out waiting for audio part",
			"generated_block_bid", o.opts.BlockBID,
			"position", p.position)
	}

	o.mu.Lock()
	for i := p.nextYield; i < p.submitted; i++ {
		if _, ok := p.completed[i]; !ok {
			p.completed[i] = &segmentResult{index: i, err: errSegmentTimeout}
		}
	}
	o.flushLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) buildOutputLocked(p *part) *partOutput {
	joined := JoinMP3(p.audioChunks)
	duration, err := DurationMS(joined)
	if err != nil || duration <= 0 {
		duration = 0
		for _, d := range p.durations {
			duration += d
		}
	}
	settings, _ := json.Marshal(o.opts.Voice)
	row := &models.LearnGeneratedAudio{
		AudioBID:          p.audioBID,
		GeneratedBlockBID: o.opts.BlockBID,
		Position:          p.position,
		ProgressRecordBID: o.opts.ProgressRecordBID,
		UserBID:           o.opts.UserBID,
		ShifuBID:          o.opts.ShifuBID,
		DurationMS:        duration,
		FileSize:          len(joined),
		AudioFormat:       "mp3",
		SampleRate:        p.sampleRate,
		VoiceID:           o.opts.Voice.VoiceID,
		VoiceSettings:     string(settings),
		Model:             o.opts.Voice.Model,
		TextLength:        p.textRunes,
		SegmentCount:      p.succeeded,
	}
	return &partOutput{p: p, row: row, joined: joined}
}

// persistOutputs inserts pending rows, uploads the joined payloads in
// parallel, then settles each row. Rows are inserted and settled
// sequentially so a transaction-bound store sees no concurrent use.
func (o *Orchestrator) persistOutputs(ctx context.Context, outputs []*partOutput) error {
	if len(outputs) == 0 {
		return nil
	}
	if o.opts.Audio == nil || o.opts.Uploader == nil {
		return fmt.Errorf("audio persistence is not configured")
	}

	for _, out := range outputs {
		out.row.Status = models.AudioStatusPending
		if err := o.opts.Audio.Insert(ctx, out.row); err != nil {
			return fmt.Errorf("failed to insert audio part: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, out := range outputs {
		out := out
		g.Go(func() error {
			obj, err := o.opts.Uploader.UploadAudio(gctx, out.joined, out.p.audioBID)
			if err != nil {
				out.err = err
				return fmt.Errorf("failed to upload audio part %d: %w", out.row.Position, err)
			}
			out.row.OSSURL = obj.URL
			out.row.OSSBucket = obj.Bucket
			out.row.OSSObjectKey = obj.Key
			return nil
		})
	}
	uploadErr := g.Wait()

	for _, out := range outputs {
		if out.err != nil {
			if err := o.opts.Audio.Fail(ctx, out.p.audioBID, out.err.Error()); err != nil {
				slog.Error("Failed to mark audio part failed",
					"audio_bid", out.p.audioBID,
					"error", err)
			}
			continue
		}
		if uploadErr != nil && out.row.OSSURL == "" {
			// Sibling failure cancelled this upload before it finished.
			out.err = uploadErr
			continue
		}
		out.row.Status = models.AudioStatusCompleted
		if err := o.opts.Audio.Complete(ctx, out.row); err != nil {
			out.err = err
			uploadErr = fmt.Errorf("failed to settle audio part %d: %w", out.row.Position, err)
			continue
		}
		out.ok = true
	}
	return uploadErr
}

// recordPartUsage writes the request-level TTS metering row for one part,
// under its reserved usage bid so segment rows stay linked.
func (o *Orchestrator) recordPartUsage(ctx context.Context, out *partOutput) {
	if o.opts.Usage == nil {
		return
	}
	errMsg := ""
	if out.err != nil {
		errMsg = out.err.Error()
	}
	o.opts.Usage.RecordTTSUsage(ctx, services.TTSUsageParams{
		UsageBID:          out.p.usageBID,
		UserBID:           o.opts.UserBID,
		ShifuBID:          o.opts.ShifuBID,
		OutlineItemBID:    o.opts.OutlineBID,
		GeneratedBlockBID: o.opts.BlockBID,
		Scene:             o.opts.Scene,
		Provider:          o.opts.Voice.Provider,
		Model:             o.opts.Voice.Model,
		RecordLevel:       models.RecordLevelRequest,
		WordCount:         out.p.textRunes,
		DurationMS:        out.row.DurationMS,
		SegmentCount:      out.p.succeeded,
		Succeeded:         out.ok,
		Error:             errMsg,
	})
}
