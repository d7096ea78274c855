package retrieval

import (
	"context"
	"fmt"
	"time"

	"ragme/internal/middleware"
	"ragme/internal/settings"
)

type SearchResult struct {
	URL      string  `json:"url"`
	Text     string  `json:"text"`
	Metadata string  `json:"metadata,omitempty"`
	Score    float32 `json:"score"`
}

// SearchOptions override the stored settings for a single query.
type SearchOptions struct {
	Alpha *float32
	Limit *int
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Search(ctx context.Context, query string, vector []float32, alpha float32, limit int) ([]SearchResult, error)
}

type SettingsService interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type Service struct {
	store    VectorStore
	embedder Embedder
	settings SettingsService
	logger   *QueryLogger
}

func NewService(store VectorStore, embedder Embedder, set SettingsService, logger *QueryLogger) *Service {
	return &Service{store: store, embedder: embedder, settings: set, logger: logger}
}

// Search runs a hybrid query over the document store. The query is
// embedded client-side only when an embedding provider is configured;
// otherwise Weaviate vectorizes it server-side.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		def := settings.Defaults()
		cfg = &def
	}

	alpha := cfg.HybridAlpha
	limit := cfg.QueryTopK
	if opts != nil {
		if opts.Alpha != nil {
			alpha = *opts.Alpha
		}
		if opts.Limit != nil {
			limit = *opts.Limit
		}
	}

	var vector []float32
	if s.embedder != nil && cfg.EmbeddingProvider != settings.ProviderNone {
		vector, err = s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}

	results, err := s.store.Search(ctx, query, vector, alpha, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	if s.logger != nil {
		s.logger.Log(ctx, QueryLogEntry{
			Query:         query,
			NumResults:    len(results),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return results, nil
}
