package e2e

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/models"
)

// TestVisualSplitAudioStream runs a TTS-enabled course whose generated text
// carries an inline SVG. The prose around the visual becomes two audio
// parts, the visual itself becomes a slide hint, and the joined parts are
// uploaded and persisted.
func TestVisualSplitAudioStream(t *testing.T) {
	h := NewHarness(t, HarnessOptions{TTSEnabled: true})
	course := h.SeedCourse(CourseOptions{
		Lesson1:    "Explain gophers with a diagram.",
		TTSEnabled: true,
	})

	const svg = `<svg width="10" height="10"><circle cx="5" cy="5" r="4"/></svg>`
	h.LLM.ScriptStream("Before." + svg + "After.")
	frames := h.Run(course.ShifuBID, course.Lesson1BID, runBody{})

	blockBID := FramesOfType(frames, events.TypeContent)[0].GeneratedBlockBID
	require.NotEmpty(t, blockBID)
	assert.Equal(t, "Before."+svg+"After.", JoinContent(t, frames, blockBID))

	// The visual region is announced once, aligned with the audio part that
	// follows it.
	slides := FramesOfType(frames, events.TypeNewSlide)
	require.Len(t, slides, 1)
	slide := slides[0].NewSlide(t)
	assert.Equal(t, blockBID, slide.GeneratedBlockBID)
	assert.Equal(t, 0, slide.SlideIndex)
	assert.Equal(t, 1, slide.AudioPosition)
	assert.Equal(t, "svg", slide.VisualKind)
	assert.Equal(t, svg, slide.SegmentContent)
	assert.NotEmpty(t, slide.SlideID)

	// Two parts, one segment each, emitted strictly in part order and only
	// after the slide hint.
	segments := FramesOfType(frames, events.TypeAudioSegment)
	require.Len(t, segments, 2)

	first := segments[0].AudioSegment(t)
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 0, first.SegmentIndex)
	assert.True(t, first.IsFinal)
	audio, err := base64.StdEncoding.DecodeString(first.AudioData)
	require.NoError(t, err)
	assert.Equal(t, audioMarker+"Before.", string(audio))
	assert.Equal(t, 40*len("Before."), first.DurationMS)

	second := segments[1].AudioSegment(t)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 0, second.SegmentIndex)
	audio, err = base64.StdEncoding.DecodeString(second.AudioData)
	require.NoError(t, err)
	assert.Equal(t, audioMarker+"After.", string(audio))

	// Every segment precedes every completion, and completions arrive in
	// ascending position order.
	types := Types(frames)
	lastSegment, firstComplete := -1, -1
	for i, typ := range types {
		if typ == events.TypeAudioSegment {
			lastSegment = i
		}
		if typ == events.TypeAudioComplete && firstComplete < 0 {
			firstComplete = i
		}
	}
	assert.Less(t, lastSegment, firstComplete)

	completes := FramesOfType(frames, events.TypeAudioComplete)
	require.Len(t, completes, 2)
	for i, f := range completes {
		done := f.AudioComplete(t)
		assert.Equal(t, i, done.Position)
		assert.NotEmpty(t, done.AudioBID)
		assert.True(t, strings.HasPrefix(done.AudioURL, "http://cdn.test/audio/tts-audio/"), done.AudioURL)
		assert.True(t, strings.HasSuffix(done.AudioURL, ".mp3"), done.AudioURL)
	}
	// The scripted provider emits non-MP3 bytes, so the joined duration
	// falls back to the summed segment durations.
	assert.Equal(t, 40*len("Before."), completes[0].AudioComplete(t).DurationMS)
	assert.Equal(t, 40*len("After."), completes[1].AudioComplete(t).DurationMS)

	// Both parts landed as completed rows linked to the block.
	rows, err := h.Audio.ListByBlock(context.Background(), blockBID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i, row := range rows {
		assert.Equal(t, i, row.Position)
		assert.Equal(t, models.AudioStatusCompleted, row.Status)
		assert.Equal(t, "voice-e2e", row.VoiceID)
		assert.Equal(t, 1, row.SegmentCount)
		assert.Equal(t, "mp3", row.AudioFormat)
		assert.Positive(t, row.FileSize)
		assert.Equal(t, TestUserBID, row.UserBID)
	}
	assert.Equal(t, completes[0].AudioComplete(t).AudioBID, rows[0].AudioBID)

	assert.ElementsMatch(t, []string{"Before.", "After."}, h.TTS.Calls())

	// One request-level metering row per part plus one per segment.
	var segmentRows, requestRows int
	require.NoError(t, h.DB.QueryRowContext(context.Background(), `
		SELECT count(*) FILTER (WHERE record_level = $2),
		       count(*) FILTER (WHERE record_level = $3)
		FROM bill_usage_record
		WHERE generated_block_bid = $1 AND usage_type = $4`,
		blockBID, models.RecordLevelSegment, models.RecordLevelRequest,
		models.UsageTypeTTS).Scan(&segmentRows, &requestRows))
	assert.Equal(t, 2, segmentRows)
	assert.Equal(t, 2, requestRows)
}

// TestAudioPartFailureDoesNotBreakRun fails synthesis for one part: the run
// still streams and persists, the healthy part completes, and the failed
// part is dropped without an audio_complete event or a stored row.
func TestAudioPartFailureDoesNotBreakRun(t *testing.T) {
	h := NewHarness(t, HarnessOptions{TTSEnabled: true})
	course := h.SeedCourse(CourseOptions{
		Lesson1:    "Explain gophers with a diagram.",
		TTSEnabled: true,
	})
	h.TTS.FailSubstring = "broken"

	h.LLM.ScriptStream(`Fine part.<svg><text>x</text></svg>This broken part.`)
	frames := h.Run(course.ShifuBID, course.Lesson1BID, runBody{})

	segments := FramesOfType(frames, events.TypeAudioSegment)
	require.Len(t, segments, 1)
	assert.Equal(t, 0, segments[0].AudioSegment(t).Position)

	completes := FramesOfType(frames, events.TypeAudioComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 0, completes[0].AudioComplete(t).Position)

	blockBID := FramesOfType(frames, events.TypeContent)[0].GeneratedBlockBID
	rows, err := h.Audio.ListByBlock(context.Background(), blockBID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Position)

	// The text emission itself is unaffected.
	rec := h.ActiveProgress(course.Lesson1BID)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.BlockPosition)
}
