package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, dedup_on_ingest, embedding_provider, embedding_model, hybrid_alpha, query_top_k FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.DedupOnIngest, &s.EmbeddingProvider, &s.EmbeddingModel, &s.HybridAlpha, &s.QueryTopK)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET dedup_on_ingest = $1, embedding_provider = $2, embedding_model = $3, hybrid_alpha = $4, query_top_k = $5, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.DedupOnIngest, s.EmbeddingProvider, s.EmbeddingModel, s.HybridAlpha, s.QueryTopK)
	return err
}
