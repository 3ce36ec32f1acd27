package mdflow

import "regexp"

// varUseRE matches a "{{identifier}}" reference in prose. The "%{{...}}"
// declaration form never matches because the preceding "%" is captured and
// checked.
var varUseRE = regexp.MustCompile(`(%?)\{\{\s*([^{}\s]+)\s*\}\}`)

// Interpolate substitutes learner variables into a document fragment.
// Unknown references stay verbatim so the model sees what the author wrote;
// "%{{var}}" interaction declarations are never substituted.
func Interpolate(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	return varUseRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := varUseRE.FindStringSubmatch(m)
		if sub[1] == "%" {
			return m
		}
		if v, ok := vars[sub[2]]; ok {
			return v
		}
		return m
	})
}
