package mdflow

import (
	"regexp"
	"strings"
)

// System button values interpreted by the run loop instead of being recorded
// as learner variables.
const (
	SysButtonPay         = "_sys_pay"
	SysButtonLogin       = "_sys_login"
	SysButtonNextChapter = "_sys_next_chapter"
)

// Button is one selectable option of an interaction. Value defaults to the
// label when the author writes no explicit "//value".
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Interaction is the parsed form of "?[%{{var}} ... ]" syntax: a button set,
// a free-text question, or a question bound to a variable.
type Interaction struct {
	Buttons  []Button `json:"buttons,omitempty"`
	Variable string   `json:"variable,omitempty"`
	Question string   `json:"question,omitempty"`
}

// HasSystemButton reports whether any button carries the given system value.
func (ia *Interaction) HasSystemButton(value string) bool {
	for _, b := range ia.Buttons {
		if b.Value == value {
			return true
		}
	}
	return false
}

// interactionRE matches a full "?[body]" region with an optional trailing
// "(label)" display suffix. The body must not contain brackets so inline
// markdown links survive as content.
var interactionRE = regexp.MustCompile(`\?\[((?:%\{\{[^{}]*\}\})?[^\[\]]*)\](?:\([^()]*\))?`)

// varRefRE extracts the leading "%{{identifier}}" variable reference.
var varRefRE = regexp.MustCompile(`^%\{\{\s*([^{}\s]+)\s*\}\}`)

// ParseInteraction parses one interaction region. It returns ok=false when
// the text does not satisfy the grammar, in which case the caller keeps the
// raw text as content.
func ParseInteraction(raw string) (*Interaction, bool) {
	m := interactionRE.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil || strings.TrimSpace(raw) != m[0] {
		return nil, false
	}
	body := m[1]

	ia := &Interaction{}

	if strings.HasPrefix(body, "%") {
		vm := varRefRE.FindStringSubmatch(body)
		if vm == nil {
			return nil, false
		}
		ia.Variable = vm[1]
		body = body[len(vm[0]):]
	}

	if rest, ok := strings.CutPrefix(body, "..."); ok {
		question := strings.TrimSpace(rest)
		if question == "" {
			return nil, false
		}
		ia.Question = question
		return ia, true
	}

	if strings.TrimSpace(body) == "" {
		return nil, false
	}

	for _, part := range strings.Split(body, "||") {
		label, value, found := strings.Cut(part, "//")
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, false
		}
		if !found {
			value = label
		} else {
			value = strings.TrimSpace(value)
			if value == "" {
				return nil, false
			}
		}
		ia.Buttons = append(ia.Buttons, Button{Label: label, Value: value})
	}
	return ia, true
}

// SystemInteraction renders a one-button interaction bound to a system
// value, for prompts the engine synthesises itself.
func SystemInteraction(label, value string) string {
	return "?[" + label + "//" + value + "](" + label + ")"
}

// NextChapterInteraction renders the synthetic interaction appended when a
// leaf finishes and the learner should advance to the next chapter.
func NextChapterInteraction(label string) string {
	return SystemInteraction(label, SysButtonNextChapter)
}
