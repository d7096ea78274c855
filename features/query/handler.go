package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"ragme/internal/agent"
	"ragme/internal/middleware"
)

type QueryAgent interface {
	Answer(ctx context.Context, question string, topK int) (agent.Answer, error)
}

type FunctionAgent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

type Handler struct {
	query QueryAgent
	agent FunctionAgent
}

func NewHandler(queryAgent QueryAgent, functionAgent FunctionAgent) *Handler {
	return &Handler{query: queryAgent, agent: functionAgent}
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type queryResponse struct {
	Answer  string         `json:"answer"`
	Sources []agent.Source `json:"sources"`
}

// Query answers a question over the ingested webpages.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "question is required", http.StatusBadRequest)
		return
	}

	ans, err := h.query.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		slog.ErrorContext(r.Context(), "query failed", "error", err)
		h.writeError(r.Context(), w, "QUERY_FAILED", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := queryResponse{Answer: ans.Text, Sources: ans.Sources}
	if resp.Sources == nil {
		resp.Sources = []agent.Source{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": resp})
}

type agentRequest struct {
	Prompt string `json:"prompt"`
}

// Agent runs a natural-language instruction through the tool-calling
// agent.
func (h *Handler) Agent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "prompt is required", http.StatusBadRequest)
		return
	}

	out, err := h.agent.Run(r.Context(), req.Prompt)
	if err != nil {
		slog.ErrorContext(r.Context(), "agent run failed", "error", err)
		h.writeError(r.Context(), w, "AGENT_FAILED", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]string{"response": out}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
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
