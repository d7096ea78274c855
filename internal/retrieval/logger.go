package retrieval

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

type QueryLogEntry struct {
	Query         string
	NumResults    int
	Duration      time.Duration
	CorrelationID string
}

// QueryLogger records executed queries in the query_logs table.
// Writes are best-effort: a search must never fail because its audit
// row could not be stored.
type QueryLogger struct {
	db *sql.DB
}

func NewQueryLogger(db *sql.DB) *QueryLogger {
	return &QueryLogger{db: db}
}

func (l *QueryLogger) Log(ctx context.Context, entry QueryLogEntry) {
	query := `INSERT INTO query_logs (query, num_results, latency_ms, correlation_id) VALUES ($1, $2, $3, $4)`
	_, err := l.db.ExecContext(ctx, query, entry.Query, entry.NumResults, entry.Duration.Milliseconds(), entry.CorrelationID)
	if err != nil {
		slog.WarnContext(ctx, "failed to write query log entry", "error", err)
	}
}
