package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ragme/internal/adapter/gemini"
	"ragme/internal/adapter/openai"
	"ragme/internal/settings"
)

// Client embeds both stored documents and incoming queries.
type Client interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Keys carries provider credentials from the environment. Which
// provider is active comes from runtime settings.
type Keys struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

// Factory builds a provider client for a (provider, model) pair.
type Factory func(ctx context.Context, provider, model string) (Client, error)

func DefaultFactory(keys Keys) Factory {
	return func(ctx context.Context, provider, model string) (Client, error) {
		switch provider {
		case settings.ProviderOpenAI:
			if keys.OpenAIAPIKey == "" {
				return nil, fmt.Errorf("openai api key not configured")
			}
			return openai.NewEmbedder(keys.OpenAIAPIKey, keys.OpenAIBaseURL, model), nil
		case settings.ProviderGemini:
			if keys.GeminiAPIKey == "" {
				return nil, fmt.Errorf("gemini api key not configured")
			}
			return gemini.NewEmbedder(ctx, keys.GeminiAPIKey, model)
		}
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

type SettingsService interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Dynamic resolves the embedding provider from settings on every call
// and caches the underlying client until provider or model change.
type Dynamic struct {
	settings SettingsService
	factory  Factory

	mu       sync.RWMutex
	client   Client
	provider string
	model    string
}

func NewDynamic(set SettingsService, factory Factory) *Dynamic {
	return &Dynamic{settings: set, factory: factory}
}

func (d *Dynamic) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return client.EmbedDocuments(ctx, texts)
}

func (d *Dynamic) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	client, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return client.EmbedQuery(ctx, text)
}

func (d *Dynamic) resolve(ctx context.Context) (Client, error) {
	s, err := d.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.EmbeddingProvider == settings.ProviderNone {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	return d.getClient(ctx, s.EmbeddingProvider, s.EmbeddingModel)
}

func (d *Dynamic) getClient(ctx context.Context, provider, model string) (Client, error) {
	d.mu.RLock()
	if d.client != nil && d.provider == provider && d.model == model {
		defer d.mu.RUnlock()
		return d.client, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double check
	if d.client != nil && d.provider == provider && d.model == model {
		return d.client, nil
	}

	client, err := d.factory(ctx, provider, model)
	if err != nil {
		return nil, err
	}

	if closer, ok := d.client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close previous embedder client", "error", err)
		}
	}

	d.client = client
	d.provider = provider
	d.model = model
	return client, nil
}
