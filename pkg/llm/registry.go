package llm

import (
	"fmt"
	"strings"
	"sync"
)

// Provider labels understood by the registry.
const (
	ProviderOpenAI  = "openai"
	ProviderQwen    = "qwen"
	ProviderErnie   = "ernie"
	ProviderGLM     = "glm"
	ProviderSilicon = "silicon"
	ProviderArk     = "ark"
	ProviderGemini  = "gemini"
)

// prefixProviders are the labels accepted in "label/model" aliases.
var prefixProviders = []string{
	ProviderOpenAI,
	ProviderQwen,
	ProviderErnie,
	ProviderGLM,
	ProviderSilicon,
	ProviderArk,
	ProviderGemini,
}

// Credential holds the per-provider connection settings.
type Credential struct {
	APIKey  string
	BaseURL string
}

// Route is a resolved alias: which backend to call and under what name.
type Route struct {
	Provider    string
	InvokeModel string
	APIKey      string
	BaseURL     string
}

// Registry resolves model aliases to provider routes. Credentials can be
// replaced at runtime; reads are concurrent.
type Registry struct {
	mu      sync.RWMutex
	creds   map[string]Credential
	allowed map[string]struct{}
}

// NewRegistry returns an empty registry. Without credentials every alias
// resolves to ErrNotConfigured.
func NewRegistry() *Registry {
	return &Registry{
		creds:   make(map[string]Credential),
		allowed: make(map[string]struct{}),
	}
}

// SetCredential installs or replaces the credentials for a provider label.
func (r *Registry) SetCredential(provider string, cred Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[provider] = cred
}

// SetAllowedModels restricts resolution to the given aliases. An empty list
// allows everything.
func (r *Registry) SetAllowedModels(aliases []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed = make(map[string]struct{}, len(aliases))
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a != "" {
			r.allowed[a] = struct{}{}
		}
	}
}

// Resolve maps an alias to a concrete route. "label/model" aliases strip the
// label; bare "gemini*" aliases route to the Gemini provider unchanged; every
// other bare alias routes to OpenAI.
func (r *Registry) Resolve(alias string) (*Route, error) {
	if alias == "" {
		return nil, fmt.Errorf("empty model alias: %w", ErrModelNotSupported)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.allowed) > 0 {
		if _, ok := r.allowed[alias]; !ok {
			return nil, fmt.Errorf("model %q is not allowed: %w", alias, ErrModelNotSupported)
		}
	}

	provider, invokeModel, err := splitAlias(alias)
	if err != nil {
		return nil, err
	}

	cred, ok := r.creds[provider]
	if !ok || cred.APIKey == "" {
		return nil, fmt.Errorf("provider %q for model %q: %w", provider, alias, ErrNotConfigured)
	}

	return &Route{
		Provider:    provider,
		InvokeModel: invokeModel,
		APIKey:      cred.APIKey,
		BaseURL:     cred.BaseURL,
	}, nil
}

func splitAlias(alias string) (provider, invokeModel string, err error) {
	if i := strings.Index(alias, "/"); i > 0 {
		label := strings.ToLower(alias[:i])
		for _, p := range prefixProviders {
			if label == p {
				return p, alias[i+1:], nil
			}
		}
		return "", "", fmt.Errorf("unknown provider prefix %q: %w", label, ErrModelNotSupported)
	}
	if strings.HasPrefix(strings.ToLower(alias), ProviderGemini) {
		return ProviderGemini, alias, nil
	}
	return ProviderOpenAI, alias, nil
}
