package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// Registry hands out one extractor per provider and model so that requests
// naming the same provider share its rate limiter
type Registry struct {
	cfg models.AIConfig

	mu    sync.Mutex
	cache map[string]*Extractor
}

// NewRegistry creates a registry over the AI configuration
func NewRegistry(cfg models.AIConfig) *Registry {
	return &Registry{cfg: cfg, cache: make(map[string]*Extractor)}
}

// Extractor returns the extractor for a provider and model. Empty values
// select the configured defaults.
func (r *Registry) Extractor(ctx context.Context, name, model string) (*Extractor, error) {
	if name == "" {
		name = r.cfg.DefaultProvider
	}
	name = strings.ToLower(name)
	key := name + "|" + model

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.cache[key]; ok {
		return e, nil
	}

	p, err := NewProvider(ctx, WithModel(r.cfg, name, model), name)
	if err != nil {
		return nil, err
	}
	e := NewExtractor(p, r.cfg)
	r.cache[key] = e
	return e, nil
}

// WithModel returns cfg with the named provider's model replaced. An empty
// model leaves cfg untouched.
func WithModel(cfg models.AIConfig, name, model string) models.AIConfig {
	if model == "" {
		return cfg
	}
	switch strings.ToLower(name) {
	case "openai":
		cfg.OpenAI.Model = model
	case "gemini":
		cfg.Gemini.Model = model
	case "ollama":
		cfg.Ollama.Model = model
	}
	return cfg
}
