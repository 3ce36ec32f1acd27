// Package mdflow parses MarkdownFlow documents: extended Markdown with "==="
// section breaks and "?[%{{var}} ...]" interaction syntax. Parsing is pure
// and never fails; malformed interactions degrade to content.
package mdflow

import "strings"

// BlockType distinguishes LLM-rendered prose from learner-facing prompts.
type BlockType string

const (
	BlockTypeContent     BlockType = "content"
	BlockTypeInteraction BlockType = "interaction"
)

// Block is one parsed unit of a document. Content holds the raw source
// verbatim so prompt construction sees exactly what the author wrote.
type Block struct {
	Type        BlockType
	Content     string
	Variables   []string
	Interaction *Interaction
}

// Parse splits a document into its ordered block sequence. The same document
// always yields identical block indices.
func Parse(document string) []Block {
	var blocks []Block
	for _, section := range splitSections(document) {
		blocks = append(blocks, splitInteractions(section)...)
	}
	return blocks
}

// splitSections cuts the document on lines beginning with "===". The marker
// lines themselves are delimiters, not content.
func splitSections(document string) []string {
	var sections []string
	var current []string
	flush := func() {
		body := strings.Join(current, "\n")
		if strings.TrimSpace(body) != "" {
			sections = append(sections, body)
		}
		current = current[:0]
	}
	for _, line := range strings.Split(document, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "===") {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return sections
}

// splitInteractions separates interaction regions from the surrounding prose
// of one section. Regions that fail the grammar stay embedded in the content.
func splitInteractions(section string) []Block {
	var blocks []Block
	appendContent := func(text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		blocks = append(blocks, Block{Type: BlockTypeContent, Content: text})
	}

	rest := section
	for {
		loc := findInteraction(rest)
		if loc == nil {
			appendContent(rest)
			return blocks
		}
		appendContent(rest[:loc[0]])
		raw := rest[loc[0]:loc[1]]
		ia, _ := ParseInteraction(raw)
		block := Block{Type: BlockTypeInteraction, Content: raw, Interaction: ia}
		if ia.Variable != "" {
			block.Variables = []string{ia.Variable}
		}
		blocks = append(blocks, block)
		rest = rest[loc[1]:]
	}
}

// findInteraction returns the span of the earliest region that satisfies the
// interaction grammar, or nil.
func findInteraction(text string) []int {
	offset := 0
	for {
		loc := interactionRE.FindStringIndex(text[offset:])
		if loc == nil {
			return nil
		}
		start, end := offset+loc[0], offset+loc[1]
		if _, ok := ParseInteraction(text[start:end]); ok {
			return []int{start, end}
		}
		offset = start + 2
	}
}
