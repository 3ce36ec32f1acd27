package tts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmenter_FirstSentenceCutAtEarliestTerminator(t *testing.T) {
	s := newSegmenter(300)

	got := s.feed("Hello world. And more")
	require.Equal(t, []string{"Hello world."}, got)

	// The remainder has no terminator and stays buffered until flush.
	assert.Empty(t, s.feed(" that never ends"))
	assert.Equal(t, []string{"And more that never ends"}, s.flush())
}

func TestSegmenter_WaitsForTerminatorAcrossFeeds(t *testing.T) {
	s := newSegmenter(300)

	assert.Empty(t, s.feed("Streaming tex"))
	got := s.feed("t arrives. Later")
	require.Equal(t, []string{"Streaming text arrives."}, got)
}

func TestSegmenter_LaterSegmentsBatchUpToMaxChars(t *testing.T) {
	t.Run("cuts at last terminator in window", func(t *testing.T) {
		s := newSegmenter(10)
		got := s.feed("Go. abc. defgh")
		require.Equal(t, []string{"Go.", "abc."}, got)
		// " defgh" is shorter than the window and waits.
		assert.Equal(t, []string{"defgh"}, s.flush())
	})

	t.Run("hard cut when window has no terminator", func(t *testing.T) {
		s := newSegmenter(10)
		got := s.feed("Go. abcdefghij")
		require.Equal(t, []string{"Go.", "abcdefghij"}, got)
	})
}

func TestSegmenter_CJKTerminators(t *testing.T) {
	s := newSegmenter(300)

	got := s.feed("你好世界。更多内容！还有")
	require.Equal(t, []string{"你好世界。"}, got)
	assert.Equal(t, []string{"更多内容！还有"}, s.flush())
}

func TestSegmenter_DegenerateFragmentAdvancesSilently(t *testing.T) {
	s := newSegmenter(300)

	got := s.feed(". Start here.")
	require.Equal(t, []string{"Start here."}, got)
}

func TestSegmenter_HoldsBackIncompleteFence(t *testing.T) {
	s := newSegmenter(300)

	assert.Empty(t, s.feed("Look:\n```go\ncode here\n"))
	got := s.feed("```\nDone now.")
	require.Len(t, got, 1)
	assert.Equal(t, "Look:\n\nDone now.", got[0])
	assert.NotContains(t, got[0], "code here")
}

func TestSegmenter_FlushDropsTinyTail(t *testing.T) {
	s := newSegmenter(300)

	require.Equal(t, []string{"Done."}, s.feed("Done. A"))
	assert.Empty(t, s.flush())
}

func TestSegmenter_StripsMarkdownBeforeCutting(t *testing.T) {
	s := newSegmenter(300)

	got := s.feed("**Bold** statement with [a link](https://example.com). More")
	require.Equal(t, []string{"Bold statement with a link."}, got)
}

func TestSegmenter_SkipsLeadingWhitespace(t *testing.T) {
	s := newSegmenter(300)

	got := s.feed("  \n Hi there. x")
	require.Equal(t, []string{"Hi there."}, got)
}

func TestSegmenter_LongStreamProducesOrderedSegments(t *testing.T) {
	s := newSegmenter(40)

	var all []string
	all = append(all, s.feed("First sentence ends here. ")...)
	all = append(all, s.feed(strings.Repeat("word ", 20))...)
	all = append(all, s.flush()...)

	require.NotEmpty(t, all)
	assert.Equal(t, "First sentence ends here.", all[0])
	for _, seg := range all {
		assert.GreaterOrEqual(t, len([]rune(seg)), 2)
	}
}
