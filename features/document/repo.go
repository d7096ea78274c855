package document

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

// Upsert inserts the row or refreshes it when the URL hash already
// exists. Re-ingesting resurrects soft-deleted rows; an empty title
// never clobbers a stored one.
func (r *PostgresRepo) Upsert(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (url, url_hash, title, status, error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url_hash) DO UPDATE
		SET title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE documents.title END,
		    status = EXCLUDED.status,
		    error = EXCLUDED.error,
		    deleted_at = NULL,
		    updated_at = NOW()
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query, doc.URL, doc.URLHash, doc.Title, doc.Status, doc.Error).Scan(&doc.ID)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	query := `SELECT id, url, title, status, error, created_at, updated_at FROM documents WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.URL, &d.Title, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) GetByURL(ctx context.Context, url string) (*Document, error) {
	d := &Document{}
	query := `SELECT id, url, title, status, error, created_at, updated_at FROM documents WHERE url = $1 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, url).Scan(&d.ID, &d.URL, &d.Title, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]Document, error) {
	query := `SELECT id, url, title, status, error, created_at, updated_at FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.URL, &d.Title, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE documents SET deleted_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}
