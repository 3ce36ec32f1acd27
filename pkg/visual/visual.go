// Package visual locates non-speakable regions (SVG, code fences, images,
// tables, iframes, HTML blocks, display math) inside a growing text buffer.
// Matching is deterministic and append-stable: once a complete region is
// found, extending the buffer never changes it.
package visual

import (
	"regexp"
	"sort"
	"strings"
)

// Type classifies a matched region.
type Type string

const (
	TypeSVG     Type = "svg"
	TypeMermaid Type = "mermaid"
	TypeCode    Type = "code"
	TypeImage   Type = "image"
	TypeTable   Type = "table"
	TypeIframe  Type = "iframe"
	TypeHTML    Type = "html"
	TypeMath    Type = "math"
)

// typePriority breaks ties between matches starting at the same offset.
// Lower wins.
var typePriority = map[Type]int{
	TypeSVG:     0,
	TypeMermaid: 1,
	TypeCode:    2,
	TypeImage:   3,
	TypeTable:   4,
	TypeIframe:  5,
	TypeHTML:    6,
	TypeMath:    7,
}

// Match is one complete visual region. End is exclusive; Content is the
// matched source including its delimiters.
type Match struct {
	Start   int
	End     int
	Type    Type
	Content string
}

var (
	svgOpenRE     = regexp.MustCompile(`(?i)<svg[\s>]`)
	svgCloseRE    = regexp.MustCompile(`(?i)</svg\s*>`)
	iframeOpenRE  = regexp.MustCompile(`(?i)<iframe[\s>]`)
	iframeCloseRE = regexp.MustCompile(`(?i)</iframe\s*>`)
	mathOpenRE    = regexp.MustCompile(`(?i)<math[\s>]`)
	mathCloseRE   = regexp.MustCompile(`(?i)</math\s*>`)
	mdImageRE     = regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`)
	htmlImageRE   = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	blockTagRE    = regexp.MustCompile(`(?i)<(/?)(div|figure|details|summary|blockquote|section|article|aside|nav|header|footer)\b[^>]*>`)
	separatorRE   = regexp.MustCompile(`^\s*\|(\s*:?-+:?\s*\|)+\s*$`)
	partialTagRE  = regexp.MustCompile(`<[a-zA-Z!/][^<>]*$`)
)

// FindEarliestCompleteVisual returns the earliest fully terminated visual
// region in text, or nil. On equal start offsets the higher-priority type
// wins (svg highest, math lowest).
func FindEarliestCompleteVisual(text string) *Match {
	var candidates []*Match
	add := func(m *Match) {
		if m != nil {
			candidates = append(candidates, m)
		}
	}

	add(findTagPair(text, TypeSVG, svgOpenRE, svgCloseRE))
	add(findFence(text))
	add(findImage(text))
	add(findTable(text))
	add(findTagPair(text, TypeIframe, iframeOpenRE, iframeCloseRE))
	add(findHTMLBlock(text))
	add(findMath(text))

	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return typePriority[candidates[i].Type] < typePriority[candidates[j].Type]
	})
	return candidates[0]
}

// findTagPair matches from the earliest opening tag to the first closing tag
// after it. Nested openers of the same kind stay inside the outer match.
func findTagPair(text string, t Type, openRE, closeRE *regexp.Regexp) *Match {
	open := openRE.FindStringIndex(text)
	if open == nil {
		return nil
	}
	rel := closeRE.FindStringIndex(text[open[0]:])
	if rel == nil {
		return nil
	}
	end := open[0] + rel[1]
	return &Match{Start: open[0], End: end, Type: t, Content: text[open[0]:end]}
}

// lineInfo is one physical line with absolute offsets. end excludes the
// newline; terminated reports whether the newline has arrived.
type lineInfo struct {
	start, end int
	terminated bool
	text       string
}

func splitLines(text string) []lineInfo {
	var lines []lineInfo
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, lineInfo{start: start, end: i, terminated: true, text: text[start:i]})
			start = i + 1
		}
	}
	if start <= len(text) {
		lines = append(lines, lineInfo{start: start, end: len(text), terminated: false, text: text[start:]})
	}
	return lines
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "```")
}

func fenceInfo(line string) string {
	s := strings.TrimLeft(line, " \t")
	s = strings.TrimLeft(s, "`")
	return strings.ToLower(strings.TrimSpace(s))
}

// findFence matches a fenced code block: an opening fence line through a
// closing fence line. The close counts only once its newline has arrived, so
// the match cannot grow under streaming appends.
func findFence(text string) *Match {
	lines := splitLines(text)
	openIdx := -1
	for i, ln := range lines {
		if !isFenceLine(ln.text) {
			continue
		}
		if openIdx < 0 {
			openIdx = i
			continue
		}
		if !ln.terminated {
			return nil
		}
		t := TypeCode
		if strings.HasPrefix(fenceInfo(lines[openIdx].text), "mermaid") {
			t = TypeMermaid
		}
		start, end := lines[openIdx].start, ln.end+1
		return &Match{Start: start, End: end, Type: t, Content: text[start:end]}
	}
	return nil
}

func findImage(text string) *Match {
	var best *Match
	if loc := mdImageRE.FindStringIndex(text); loc != nil {
		best = &Match{Start: loc[0], End: loc[1], Type: TypeImage, Content: text[loc[0]:loc[1]]}
	}
	if loc := htmlImageRE.FindStringIndex(text); loc != nil {
		if best == nil || loc[0] < best.Start {
			best = &Match{Start: loc[0], End: loc[1], Type: TypeImage, Content: text[loc[0]:loc[1]]}
		}
	}
	return best
}

func isPipeLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "|")
}

// findTable matches the minimal complete table: header line, separator line,
// and the first newline-terminated body row. Later rows belong to whatever
// follows the boundary, keeping the match stable as the buffer grows.
func findTable(text string) *Match {
	lines := splitLines(text)
	for i := 0; i+2 < len(lines); i++ {
		if !isPipeLine(lines[i].text) || !lines[i].terminated {
			continue
		}
		if separatorRE.MatchString(lines[i].text) {
			continue
		}
		if !separatorRE.MatchString(lines[i+1].text) || !lines[i+1].terminated {
			continue
		}
		body := lines[i+2]
		if !isPipeLine(body.text) || separatorRE.MatchString(body.text) || !body.terminated {
			continue
		}
		start, end := lines[i].start, body.end+1
		return &Match{Start: start, End: end, Type: TypeTable, Content: text[start:end]}
	}
	return nil
}

// findHTMLBlock matches a complete block-level element, tracking nesting of
// the same tag so nested <div>s close with the outermost one.
func findHTMLBlock(text string) *Match {
	tokens := blockTagRE.FindAllStringSubmatchIndex(text, -1)
	for ti, tok := range tokens {
		if text[tok[2]:tok[3]] == "/" {
			continue // stray closer before any opener
		}
		name := strings.ToLower(text[tok[4]:tok[5]])
		if strings.HasSuffix(strings.TrimSpace(text[tok[0]:tok[1]]), "/>") {
			return &Match{Start: tok[0], End: tok[1], Type: TypeHTML, Content: text[tok[0]:tok[1]]}
		}
		depth := 1
		for _, next := range tokens[ti+1:] {
			if strings.ToLower(text[next[4]:next[5]]) != name {
				continue
			}
			if strings.HasSuffix(strings.TrimSpace(text[next[0]:next[1]]), "/>") {
				continue
			}
			if text[next[2]:next[3]] == "/" {
				depth--
			} else {
				depth++
			}
			if depth == 0 {
				end := next[1]
				return &Match{Start: tok[0], End: end, Type: TypeHTML, Content: text[tok[0]:end]}
			}
		}
	}
	return nil
}

// findMath matches display math: $$...$$ or a MathML <math> element. Single
// dollars never match.
func findMath(text string) *Match {
	var best *Match
	if first := strings.Index(text, "$$"); first >= 0 {
		if second := strings.Index(text[first+2:], "$$"); second >= 0 {
			end := first + 2 + second + 2
			best = &Match{Start: first, End: end, Type: TypeMath, Content: text[first:end]}
		}
	}
	if m := findTagPair(text, TypeMath, mathOpenRE, mathCloseRE); m != nil {
		if best == nil || m.Start < best.Start {
			best = m
		}
	}
	return best
}

// HasIncompleteVisual reports whether the tail of text opens a visual region
// whose terminator has not arrived yet. Callers hold such tails back instead
// of splitting or speaking them.
func HasIncompleteVisual(text string) bool {
	lines := splitLines(text)

	fences := 0
	lastFenceTerminated := true
	for _, ln := range lines {
		if isFenceLine(ln.text) {
			fences++
			lastFenceTerminated = ln.terminated
		}
	}
	if fences%2 == 1 {
		return true
	}
	if fences > 0 && !lastFenceTerminated {
		return true
	}

	for _, pair := range []struct{ open, close *regexp.Regexp }{
		{svgOpenRE, svgCloseRE},
		{iframeOpenRE, iframeCloseRE},
		{mathOpenRE, mathCloseRE},
	} {
		if len(pair.open.FindAllString(text, -1)) > len(pair.close.FindAllString(text, -1)) {
			return true
		}
	}

	if openBlockTags(text) {
		return true
	}

	if strings.Count(text, "$$")%2 == 1 {
		return true
	}

	if incompleteMarkdownImage(text) {
		return true
	}

	if incompleteTableTail(lines) {
		return true
	}

	return partialTagRE.MatchString(text)
}

func openBlockTags(text string) bool {
	depth := map[string]int{}
	for _, tok := range blockTagRE.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[tok[4]:tok[5]])
		if strings.HasSuffix(strings.TrimSpace(text[tok[0]:tok[1]]), "/>") {
			continue
		}
		if text[tok[2]:tok[3]] == "/" {
			if depth[name] > 0 {
				depth[name]--
			}
		} else {
			depth[name]++
		}
	}
	for _, d := range depth {
		if d > 0 {
			return true
		}
	}
	return false
}

// incompleteMarkdownImage reports a "![..." opening whose closing paren has
// not arrived and that can still complete (no newline has broken it).
func incompleteMarkdownImage(text string) bool {
	idx := strings.LastIndex(text, "![")
	if idx < 0 {
		return false
	}
	tail := text[idx:]
	if mdImageRE.MatchString(tail) {
		return false
	}
	return !strings.Contains(tail, "\n")
}

// incompleteTableTail reports a trailing run of pipe lines that has not yet
// produced a header, separator, and terminated body row.
func incompleteTableTail(lines []lineInfo) bool {
	end := len(lines)
	// A trailing unterminated empty line is just "nothing typed yet" and
	// must not break the run.
	if end > 0 && lines[end-1].text == "" && !lines[end-1].terminated {
		end--
	}
	start := end
	for start > 0 && isPipeLine(lines[start-1].text) {
		start--
	}
	if start == end {
		return false
	}
	run := lines[start:end]
	if len(run) >= 3 &&
		!separatorRE.MatchString(run[0].text) && run[0].terminated &&
		separatorRE.MatchString(run[1].text) && run[1].terminated &&
		isPipeLine(run[2].text) && !separatorRE.MatchString(run[2].text) && run[2].terminated {
		return false
	}
	return true
}
