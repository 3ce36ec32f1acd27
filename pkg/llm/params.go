package llm

import "strings"

// CallParams are the normalised sampling knobs for one call. Zero values
// mean the field is omitted from the request.
type CallParams struct {
	ReasoningEffort string
	Temperature     *float64
	ExtraBody       map[string]any
}

// ReloadParams maps a model family to the knobs it actually accepts. Longer
// prefixes are checked before the families they shadow, so "gpt-5.2" wins
// over "gpt-5".
func ReloadParams(provider, invokeModel string, temperature float64) CallParams {
	t := temperature
	one := 1.0

	switch {
	case strings.HasPrefix(invokeModel, "gpt-5.2"):
		return CallParams{ReasoningEffort: "none", Temperature: &t}
	case strings.HasPrefix(invokeModel, "gpt-5.1"):
		return CallParams{ReasoningEffort: "none", Temperature: &one}
	case strings.HasPrefix(invokeModel, "gpt-5-pro"):
		return CallParams{ReasoningEffort: "none"}
	case strings.HasPrefix(invokeModel, "gpt-5"):
		return CallParams{ReasoningEffort: "minimal", Temperature: &one}
	case strings.HasPrefix(invokeModel, "gemini-2.5-pro"),
		strings.HasPrefix(invokeModel, "gemini-3"):
		return CallParams{ReasoningEffort: "low", Temperature: &t}
	case strings.HasPrefix(invokeModel, "gemini"):
		return CallParams{ReasoningEffort: "none", Temperature: &t}
	}

	switch provider {
	case ProviderArk:
		return CallParams{
			Temperature: &t,
			ExtraBody:   map[string]any{"thinking": map[string]any{"type": "disabled"}},
		}
	case ProviderSilicon:
		return CallParams{
			Temperature: &t,
			ExtraBody:   map[string]any{"enable_thinking": false},
		}
	}
	return CallParams{Temperature: &t}
}
