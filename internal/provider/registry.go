package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// Registry holds the providers available to a processor. It is an explicit
// value; there is no package-level registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry, replacing one with the same id.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return provider, nil
}

// List returns all providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// GetModel retrieves a specific model from a provider. Unknown model ids are
// accepted for providers serving arbitrary deployments.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, model := range provider.Models() {
		if model.ID == modelID {
			return &model, nil
		}
	}
	return &types.Model{ID: modelID, Name: modelID, ProviderID: providerID, SupportsTools: true}, nil
}

// AllModels returns all models from all providers.
func (r *Registry) AllModels() []types.Model {
	var models []types.Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}
	return models
}

// DefaultModel returns the configured model, else the first model of the
// preferred provider.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		if providerID == "" {
			return nil, fmt.Errorf("model %q must be written as provider/model", r.config.Model)
		}
		return r.GetModel(providerID, modelID)
	}

	for _, id := range []string{"anthropic", "openai"} {
		if p, err := r.Get(id); err == nil && len(p.Models()) > 0 {
			m := p.Models()[0]
			return &m, nil
		}
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// Resolve returns the provider and model id for a "provider/model" string,
// falling back to the default model when s is empty.
func (r *Registry) Resolve(s string) (Provider, string, error) {
	if s == "" {
		m, err := r.DefaultModel()
		if err != nil {
			return nil, "", err
		}
		p, err := r.Get(m.ProviderID)
		return p, m.ID, err
	}
	providerID, modelID := ParseModelString(s)
	if providerID == "" {
		return nil, "", fmt.Errorf("model %q must be written as provider/model", s)
	}
	p, err := r.Get(providerID)
	return p, modelID, err
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// HTTPOptionsFromConfig derives transport settings from configuration.
func HTTPOptionsFromConfig(cfg *types.Config) HTTPOptions {
	opts := DefaultHTTPOptions()
	if cfg == nil {
		return opts
	}
	if cfg.Retry != nil {
		if d, err := time.ParseDuration(cfg.Retry.InitialInterval); err == nil && d > 0 {
			opts.Retry.InitialInterval = d
		}
		if cfg.Retry.Multiplier > 0 {
			opts.Retry.Multiplier = cfg.Retry.Multiplier
		}
		if cfg.Retry.MaxAttempts > 0 {
			opts.Retry.MaxAttempts = cfg.Retry.MaxAttempts
		}
	}
	if cfg.Timeouts != nil {
		if d, err := time.ParseDuration(cfg.Timeouts.ProviderIdle); err == nil && d > 0 {
			opts.IdleTimeout = d
		}
	}
	return opts
}

// InitializeProviders creates and registers providers from config. The
// anthropic, openai and ollama wire providers are always registered; a missing
// credential is reported when they are used. Eino-backed vendors are only
// registered when configured.
func InitializeProviders(ctx context.Context, config *types.Config) *Registry {
	if config == nil {
		config = &types.Config{}
	}
	registry := NewRegistry(config)
	opts := HTTPOptionsFromConfig(config)

	for _, id := range []string{"anthropic", "openai", "ollama"} {
		if _, ok := config.Provider[id]; !ok {
			registry.Register(newProvider(ctx, id, id, types.ProviderConfig{}, opts))
		}
	}

	ids := make([]string, 0, len(config.Provider))
	for id := range config.Provider {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cfg := config.Provider[id]
		if cfg.Disable {
			continue
		}
		kind := firstNonEmpty(cfg.Type, id)
		p := newProvider(ctx, id, kind, cfg, opts)
		if p == nil {
			logging.Warn().Str("provider", id).Str("type", kind).Msg("unknown provider type, skipping")
			continue
		}
		registry.Register(p)
	}
	return registry
}

func newProvider(ctx context.Context, id, kind string, cfg types.ProviderConfig, opts HTTPOptions) Provider {
	apiKey, baseURL := cfg.APIKey, cfg.BaseURL
	var o types.ProviderOptions
	if cfg.Options != nil {
		o = *cfg.Options
		apiKey = firstNonEmpty(apiKey, o.APIKey)
		baseURL = firstNonEmpty(baseURL, o.BaseURL)
	}

	switch kind {
	case "anthropic":
		return NewAnthropicProvider(&AnthropicConfig{ID: id, APIKey: apiKey, BaseURL: baseURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens, HTTP: opts})
	case "openai":
		return NewOpenAIProvider(&OpenAIConfig{ID: id, APIKey: apiKey, BaseURL: baseURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens, HTTP: opts})
	case "ollama":
		return NewOllamaProvider(&OllamaConfig{ID: id, APIKey: apiKey, BaseURL: baseURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens, HTTP: opts})
	case "ark":
		return NewArkProvider(ctx, &ArkConfig{ID: id, APIKey: apiKey, BaseURL: baseURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens, HTTP: opts})
	case "bedrock":
		return NewBedrockProvider(ctx, &BedrockConfig{ID: id, Model: cfg.Model, Region: o.Region, Profile: o.Profile, MaxTokens: cfg.MaxTokens, HTTP: opts})
	case "azure":
		return NewAzureProvider(ctx, &AzureConfig{ID: id, APIKey: apiKey, BaseURL: baseURL, Model: cfg.Model, APIVersion: o.APIVersion, MaxTokens: cfg.MaxTokens, HTTP: opts})
	}
	return nil
}
