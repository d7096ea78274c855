package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid settings")

// Embedding providers selectable at runtime. ProviderNone leaves
// vectorization to the collection's server-side module.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Settings struct {
	ID                int     `json:"-"`
	DedupOnIngest     bool    `json:"dedup_on_ingest"`
	EmbeddingProvider string  `json:"embedding_provider"`
	EmbeddingModel    string  `json:"embedding_model"`
	HybridAlpha       float32 `json:"hybrid_alpha"`
	QueryTopK         int     `json:"query_top_k"`
}

// Defaults mirror the seed row created by the migrations.
func Defaults() Settings {
	return Settings{
		DedupOnIngest:     false,
		EmbeddingProvider: ProviderNone,
		EmbeddingModel:    "",
		HybridAlpha:       0.5,
		QueryTopK:         5,
	}
}

func (s *Settings) Validate() error {
	switch s.EmbeddingProvider {
	case ProviderNone, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("%w: embedding_provider %q", ErrInvalid, s.EmbeddingProvider)
	}
	if s.HybridAlpha < 0 || s.HybridAlpha > 1 {
		return fmt.Errorf("%w: hybrid_alpha must be within [0,1]", ErrInvalid)
	}
	if s.QueryTopK <= 0 {
		return fmt.Errorf("%w: query_top_k must be positive", ErrInvalid)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}
