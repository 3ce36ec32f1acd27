package tts

import (
	"strings"
	"unicode"
)

// defaultMaxSegmentChars bounds a synthesis request once the first sentence
// has been emitted.
const defaultMaxSegmentChars = 300

// sentenceTerminators end a sentence for segmentation purposes, covering
// both ASCII and full-width CJK punctuation.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true, ';': true,
	'。': true, '！': true, '？': true, '；': true,
}

// segmenter cuts one audio part's streamed text into speakable segments. The
// first sentence is cut at the earliest terminator so playback starts fast;
// later segments batch up to maxChars. Not safe for concurrent use; the
// orchestrator serialises access.
type segmenter struct {
	maxChars int

	raw               strings.Builder
	processedOffset   int // rune offset into the cleaned text
	firstSentenceDone bool
}

func newSegmenter(maxChars int) *segmenter {
	if maxChars < 2 {
		maxChars = defaultMaxSegmentChars
	}
	return &segmenter{maxChars: maxChars}
}

// feed appends streamed text and returns any segments that became ready.
func (s *segmenter) feed(text string) []string {
	s.raw.WriteString(text)
	if HasIncompleteBlock(s.raw.String()) {
		// A half-arrived fence or tag would be cleaned mid-construct; hold
		// the whole buffer back until its terminator arrives.
		return nil
	}
	return s.drain(false)
}

// flush ends the stream and returns the remaining segments.
func (s *segmenter) flush() []string {
	return s.drain(true)
}

func (s *segmenter) drain(closing bool) []string {
	cleaned := []rune(PreprocessForTTS(s.raw.String()))
	var out []string
	for {
		for s.processedOffset < len(cleaned) && unicode.IsSpace(cleaned[s.processedOffset]) {
			s.processedOffset++
		}
		if s.processedOffset >= len(cleaned) {
			return out
		}
		tail := cleaned[s.processedOffset:]
		if len(tail) < 2 {
			return out
		}

		var cut int
		switch {
		case !s.firstSentenceDone:
			if idx := earliestTerminator(tail); idx >= 0 {
				cut = idx + 1
			} else if closing {
				cut = len(tail)
			} else {
				return out
			}
		case len(tail) >= s.maxChars:
			window := tail[:s.maxChars]
			if idx := lastTerminator(window); idx >= 0 {
				cut = idx + 1
			} else {
				cut = s.maxChars
			}
		case closing:
			cut = len(tail)
		default:
			return out
		}

		segment := strings.TrimSpace(string(tail[:cut]))
		s.processedOffset += cut
		// Degenerate fragments advance the offset without producing audio.
		if len([]rune(segment)) >= 2 {
			out = append(out, segment)
			s.firstSentenceDone = true
		}
	}
}

func earliestTerminator(text []rune) int {
	for i, r := range text {
		if sentenceTerminators[r] {
			return i
		}
	}
	return -1
}

func lastTerminator(text []rune) int {
	for i := len(text) - 1; i >= 0; i-- {
		if sentenceTerminators[text[i]] {
			return i
		}
	}
	return -1
}
