// Package tts turns streamed lesson prose into ordered synthesized audio:
// cleaning markdown artefacts out of the text, batching it into speakable
// segments, and orchestrating concurrent synthesis into ordered events.
package tts

import (
	"html"
	"regexp"
	"strings"
)

var (
	fenceBlockRE   = regexp.MustCompile("(?s)```.*?```")
	svgBlockRE     = regexp.MustCompile(`(?is)<svg[\s>].*?</svg\s*>`)
	mathBlockRE    = regexp.MustCompile(`(?is)<math[\s>].*?</math\s*>`)
	scriptBlockRE  = regexp.MustCompile(`(?is)<script[\s>].*?</script\s*>`)
	styleBlockRE   = regexp.MustCompile(`(?is)<style[\s>].*?</style\s*>`)
	dollarMathRE   = regexp.MustCompile(`(?s)\$\$.*?\$\$`)
	genericTagRE   = regexp.MustCompile(`<[^<>]+>`)
	headerRE       = regexp.MustCompile(`(?m)^(?:#{1,6}[ \t]*)+`)
	imageRE        = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRE         = regexp.MustCompile(`\[([^\[\]]*)\]\([^)]*\)`)
	boldItalicRE   = regexp.MustCompile(`\*\*\*([^*\n]+)\*\*\*`)
	boldRE         = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	italicRE       = regexp.MustCompile(`\*([^*\n]+)\*`)
	boldUnderRE    = regexp.MustCompile(`__([^_\n]+)__`)
	italicUnderRE  = regexp.MustCompile(`_([^_\n]+)_`)
	strikeRE       = regexp.MustCompile(`~~([^~\n]+)~~`)
	inlineCodeRE   = regexp.MustCompile("`([^`\n]*)`")
	listMarkerRE   = regexp.MustCompile(`(?m)^[ \t]*(?:(?:[-*+]|\d+[.)])[ \t]+)+`)
	dataURIRE      = regexp.MustCompile(`data:[^\s)]+`)
	manyNewlinesRE = regexp.MustCompile(`\n{3,}`)
	runSpacesRE    = regexp.MustCompile(`[ \t]{2,}`)
	openTagTailRE  = regexp.MustCompile(`<[a-zA-Z!/][^<>]*$`)
)

// tailBlockTags are constructs whose half-arrived tails must never reach the
// synthesizer.
var tailBlockTags = []struct {
	open, close *regexp.Regexp
}{
	{regexp.MustCompile(`(?i)<svg[\s>]`), regexp.MustCompile(`(?i)</svg\s*>`)},
	{regexp.MustCompile(`(?i)<math[\s>]`), regexp.MustCompile(`(?i)</math\s*>`)},
	{regexp.MustCompile(`(?i)<script[\s>]`), regexp.MustCompile(`(?i)</script\s*>`)},
	{regexp.MustCompile(`(?i)<style[\s>]`), regexp.MustCompile(`(?i)</style\s*>`)},
}

// PreprocessForTTS strips markdown, HTML, code, SVG and math artefacts out of
// prose before synthesis. It is idempotent, so re-cleaning already cleaned
// text is a no-op.
func PreprocessForTTS(text string) string {
	// Entities may be double-escaped by upstream templating.
	text = html.UnescapeString(html.UnescapeString(text))
	text = strings.ReplaceAll(text, "\u00a0", " ")

	text = stripIncompleteTail(text)

	text = fenceBlockRE.ReplaceAllString(text, "")
	text = svgBlockRE.ReplaceAllString(text, "")
	text = mathBlockRE.ReplaceAllString(text, "")
	text = scriptBlockRE.ReplaceAllString(text, "")
	text = styleBlockRE.ReplaceAllString(text, "")
	text = dollarMathRE.ReplaceAllString(text, "")
	text = genericTagRE.ReplaceAllString(text, "")

	text = headerRE.ReplaceAllString(text, "")
	text = replaceToFixpoint(imageRE, text, "")
	text = replaceToFixpoint(linkRE, text, "$1")
	text = replaceToFixpoint(boldItalicRE, text, "$1")
	text = replaceToFixpoint(boldRE, text, "$1")
	text = replaceToFixpoint(italicRE, text, "$1")
	text = replaceToFixpoint(boldUnderRE, text, "$1")
	text = replaceToFixpoint(italicUnderRE, text, "$1")
	text = replaceToFixpoint(strikeRE, text, "$1")
	text = replaceToFixpoint(inlineCodeRE, text, "$1")

	text = listMarkerRE.ReplaceAllString(text, "")
	text = dataURIRE.ReplaceAllString(text, "")

	text = runSpacesRE.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = manyNewlinesRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// replaceToFixpoint applies the replacement until the text stops changing,
// so nested constructs collapse in one preprocessing pass.
func replaceToFixpoint(re *regexp.Regexp, text, repl string) string {
	for {
		out := re.ReplaceAllString(text, repl)
		if out == text {
			return out
		}
		text = out
	}
}

// stripIncompleteTail cuts the text at the earliest construct whose
// terminator has not arrived: an unpaired code fence, an unclosed
// svg/math/script/style element, or a partial "<..." opening.
func stripIncompleteTail(text string) string {
	cut := len(text)

	if idx := unpairedFenceStart(text); idx >= 0 && idx < cut {
		cut = idx
	}
	for _, tags := range tailBlockTags {
		if idx := unmatchedOpenStart(text, tags.open, tags.close); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	if loc := openTagTailRE.FindStringIndex(text); loc != nil && loc[0] < cut {
		cut = loc[0]
	}

	return text[:cut]
}

// unpairedFenceStart returns the offset of the last opening fence line when
// the fence count is odd, else -1.
func unpairedFenceStart(text string) int {
	start := 0
	last := -1
	count := 0
	for {
		nl := strings.IndexByte(text[start:], '\n')
		var line string
		if nl < 0 {
			line = text[start:]
		} else {
			line = text[start : start+nl]
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
			count++
			last = start
		}
		if nl < 0 {
			break
		}
		start += nl + 1
	}
	if count%2 == 1 {
		return last
	}
	return -1
}

// unmatchedOpenStart returns the offset of the first opener that has no
// corresponding closer, else -1.
func unmatchedOpenStart(text string, openRE, closeRE *regexp.Regexp) int {
	opens := openRE.FindAllStringIndex(text, -1)
	closes := len(closeRE.FindAllStringIndex(text, -1))
	if len(opens) > closes {
		return opens[closes][0]
	}
	return -1
}

// HasIncompleteBlock reports whether the tail of text opens a construct whose
// terminator has not arrived. The orchestrator holds such tails back from
// segmentation.
func HasIncompleteBlock(text string) bool {
	if unpairedFenceStart(text) >= 0 {
		return true
	}
	for _, tags := range tailBlockTags {
		if unmatchedOpenStart(text, tags.open, tags.close) >= 0 {
			return true
		}
	}
	return openTagTailRE.MatchString(text)
}
