package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragme/internal/middleware"
)

type DocumentRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type VectorStore interface {
	CountDocuments(ctx context.Context) (int, error)
}

type Handler struct {
	docRepo     DocumentRepo
	jobRepo     JobRepo
	vectorStore VectorStore
}

func NewHandler(d DocumentRepo, j JobRepo, v VectorStore) *Handler {
	return &Handler{docRepo: d, jobRepo: j, vectorStore: v}
}

type StatsResponse struct {
	Documents     int            `json:"documents"`
	VectorObjects int            `json:"vector_objects"`
	Jobs          map[string]int `json:"jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	dCount, err := h.docRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	vCount, err := h.vectorStore.CountDocuments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count vector objects", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count vector objects", http.StatusInternalServerError)
		return
	}

	jCounts, err := h.jobRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}
	if jCounts == nil {
		jCounts = map[string]int{}
	}

	resp := StatsResponse{
		Documents:     dCount,
		VectorObjects: vCount,
		Jobs:          jCounts,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
