// Package provider wraps the external text-generation services. All
// configured backends speak the OpenAI chat-completions protocol; the
// DashScope (Qwen) endpoint is OpenAI-compatible.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"heartmend/internal/config"
)

// ErrNotConfigured marks a configuration error: the selected provider has no
// usable credential. It is raised before any attempt is made and is never
// retried.
var ErrNotConfigured = errors.New("provider not configured")

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single blocking generation backend.
type Provider interface {
	Name() string
	// Invoke sends one system+user prompt pair and returns the raw text of
	// the completion.
	Invoke(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
	// Stream sends a conversation and delivers completion text incrementally
	// through onChunk.
	Stream(ctx context.Context, messages []Message, temperature float64, onChunk func(string)) error
}

// Registry resolves configured provider names to live clients.
type Registry struct {
	defaultName string
	providers   map[string]config.Provider
	lookupEnv   func(string) (string, bool)
}

// NewRegistry builds a registry from config. Credentials are resolved lazily
// at selection time so a missing key only fails requests that need it.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		defaultName: cfg.AI.DefaultProvider,
		providers:   cfg.AI.Providers,
		lookupEnv:   os.LookupEnv,
	}
}

// WithEnv overrides environment lookup, for tests.
func (r *Registry) WithEnv(lookup func(string) (string, bool)) *Registry {
	r.lookupEnv = lookup
	return r
}

// Select resolves a provider by name, falling back to the configured default
// when name is empty. A missing credential is a configuration error.
func (r *Registry) Select(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	pc, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, name)
	}
	key, ok := r.lookupEnv(pc.APIKeyEnv)
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %s not set for provider %q", ErrNotConfigured, pc.APIKeyEnv, name)
	}
	return newClient(name, pc, key), nil
}
