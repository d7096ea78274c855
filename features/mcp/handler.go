package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragme/features/document"
	"ragme/internal/agent"
	"ragme/internal/middleware"
)

// DocumentManager is the slice of the document service exposed as MCP
// tools.
type DocumentManager interface {
	WriteWebpages(ctx context.Context, urls []string) error
	List(ctx context.Context, limit, offset int) ([]document.Document, error)
	DeleteByURL(ctx context.Context, url string) error
}

type QueryAgent interface {
	Answer(ctx context.Context, question string, topK int) (agent.Answer, error)
}

type Handler struct {
	docs         DocumentManager
	query        QueryAgent
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(docs DocumentManager, query QueryAgent) *Handler {
	return &Handler{
		docs:     docs,
		query:    query,
		sessions: make(map[string]chan string),
	}
}

// JSON-RPC request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// processRequest processes the JSON-RPC request and returns a response.
// Returns nil if no response should be sent (e.g. for notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	if req.Method == "initialize" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "ragme-mcp",
					"version": "1.0.0",
				},
			},
		}
	}

	if req.Method == "notifications/initialized" {
		// Notifications must not generate a response
		return nil
	}

	if req.Method == "tools/list" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  ListToolsResult{Tools: toolCatalog()},
		}
	}

	if req.Method == "tools/call" {
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.Warn("invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}

		switch params.Name {
		case "write_webpages":
			return h.callWriteWebpages(ctx, req.ID, params.Arguments)
		case "query_documents":
			return h.callQueryDocuments(ctx, req.ID, params.Arguments)
		case "list_documents":
			return h.callListDocuments(ctx, req.ID, params.Arguments)
		case "delete_document":
			return h.callDeleteDocument(ctx, req.ID, params.Arguments)
		}

		slog.Warn("tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Tool not found: "+params.Name)
		return &resp
	}

	slog.Warn("unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func toolCatalog() []Tool {
	return []Tool{
		{
			Name: "write_webpages",
			Description: `Ingestion tool. Fetches the given webpage URLs, extracts their text, and writes them to the document collection so they become searchable. Use this to add new pages to the knowledge base.

USAGE EXAMPLE:
write_webpages(urls=["https://example.com/docs/intro"])`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"urls": map[string]interface{}{
						"type":        "array",
						"items":       map[string]string{"type": "string"},
						"description": "Webpage URLs to ingest",
					},
				},
				"required": []string{"urls"},
			},
		},
		{
			Name: "query_documents",
			Description: `Question answering tool. Runs a hybrid search over the ingested webpages and answers the question from the retrieved context, citing source URLs. Use this for any question about previously ingested content.

ARGUMENT GUIDE:
- top_k: number of context documents to retrieve (default 5, keep it small to avoid context bloat).

USAGE EXAMPLE:
query_documents(question="How is the webhook signature verified?", top_k=5)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]string{
						"type":        "string",
						"description": "The question to answer",
					},
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "Context documents to retrieve (default 5)",
						"minimum":     1,
						"maximum":     50,
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name: "list_documents",
			Description: `Discovery tool. Lists the webpages currently tracked in the document registry with their ingestion status. Use this at the start of a session to understand what content is available.

USAGE EXAMPLE:
list_documents(limit=20)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Max documents to return (default 50)",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "Documents to skip",
					},
				},
			},
		},
		{
			Name: "delete_document",
			Description: `Removal tool. Deletes a webpage from the registry and all of its objects from the vector collection, by URL.

USAGE EXAMPLE:
delete_document(url="https://example.com/docs/outdated")`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]string{
						"type":        "string",
						"description": "URL of the document to delete",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}

func (h *Handler) callWriteWebpages(ctx context.Context, id interface{}, rawArgs json.RawMessage) *JSONRPCResponse {
	var args struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		slog.Warn("invalid write_webpages arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if len(args.URLs) == 0 {
		resp := makeErrorResponse(id, ErrInvalidParams, "urls is required")
		return &resp
	}

	if err := h.docs.WriteWebpages(ctx, args.URLs); err != nil {
		slog.ErrorContext(ctx, "write_webpages failed", "error", err)
		resp := makeToolError(id, "Ingestion failed: "+err.Error())
		return &resp
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "write_webpages", "urls", len(args.URLs))

	text := fmt.Sprintf("Ingested %d webpage(s):\n%s", len(args.URLs), strings.Join(args.URLs, "\n"))
	resp := makeToolResponse(id, text)
	return &resp
}

func (h *Handler) callQueryDocuments(ctx context.Context, id interface{}, rawArgs json.RawMessage) *JSONRPCResponse {
	var args struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		slog.Warn("invalid query_documents arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if strings.TrimSpace(args.Question) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "question is required")
		return &resp
	}

	answer, err := h.query.Answer(ctx, args.Question, args.TopK)
	if err != nil {
		slog.ErrorContext(ctx, "query_documents failed", "error", err)
		resp := makeToolError(id, "Query failed: "+err.Error())
		return &resp
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, src := range answer.Sources {
			fmt.Fprintf(&b, "- %s (score %.2f)\n", src.URL, src.Score)
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "query_documents", "sources", len(answer.Sources))

	resp := makeToolResponse(id, b.String())
	return &resp
}

func (h *Handler) callListDocuments(ctx context.Context, id interface{}, rawArgs json.RawMessage) *JSONRPCResponse {
	var args struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			slog.Warn("invalid list_documents arguments", "error", err)
			resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
	}
	if args.Limit <= 0 {
		args.Limit = 50
	}

	docs, err := h.docs.List(ctx, args.Limit, args.Offset)
	if err != nil {
		slog.ErrorContext(ctx, "list_documents failed", "error", err)
		resp := makeToolError(id, "Error: "+err.Error())
		return &resp
	}

	if len(docs) == 0 {
		resp := makeToolResponse(id, "No documents found.")
		return &resp
	}

	type SimpleDocument struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Status string `json:"status"`
	}
	simple := make([]SimpleDocument, len(docs))
	for i, d := range docs {
		simple[i] = SimpleDocument{ID: d.ID, URL: d.URL, Status: d.Status}
	}

	jsonBytes, err := json.MarshalIndent(simple, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal documents", "error", err)
		resp := makeToolError(id, "Error marshalling results")
		return &resp
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "list_documents", "count", len(docs))

	resp := makeToolResponse(id, string(jsonBytes))
	return &resp
}

func (h *Handler) callDeleteDocument(ctx context.Context, id interface{}, rawArgs json.RawMessage) *JSONRPCResponse {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		slog.Warn("invalid delete_document arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if args.URL == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "url is required")
		return &resp
	}

	if err := h.docs.DeleteByURL(ctx, args.URL); err != nil {
		slog.ErrorContext(ctx, "delete_document failed", "error", err)
		resp := makeToolError(id, "Delete failed: "+err.Error())
		return &resp
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "delete_document", "url", args.URL)

	resp := makeToolResponse(id, "Deleted document for "+args.URL)
	return &resp
}

func makeToolResponse(id interface{}, text string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
		},
	}
}

// makeToolError reports a tool execution failure inside a successful
// JSON-RPC response, per the MCP tool result contract.
func makeToolError(id interface{}, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: message}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	} else {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		close(msgChan)
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	// Tell the client where to POST its messages for this session.
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	w.(http.Flusher).Flush()

	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	w.(http.Flusher).Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			w.(http.Flusher).Flush()
		case <-ticker.C:
			// Keep-alive comment to prevent proxies timing out the stream
			fmt.Fprintf(w, ": keepalive\n\n")
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	slog.Info("mcp message received",
		"method", r.Method,
		"path", r.URL.Path,
		"correlation_id", correlationID,
	)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.Warn("missing sessionId in message request", "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	msgChan, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	// MCP spec: return 202 Accepted immediately, deliver the response
	// over the SSE stream.
	w.WriteHeader(http.StatusAccepted)

	// Detached context keeps the correlation ID but survives the POST
	// returning before the tool finishes.
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}

		h.sessionsLock.RLock()
		defer h.sessionsLock.RUnlock()

		defer func() {
			if r := recover(); r != nil {
				slog.Warn("failed to send to sse channel (closed)", "session_id", sessionID, "error", r, "correlation_id", correlationID)
			}
		}()

		select {
		case msgChan <- string(respBytes):
		default:
			slog.Warn("session channel full, dropping message", "session_id", sessionID, "correlation_id", correlationID)
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP reports protocol errors in the body with 200 OK.
	w.WriteHeader(http.StatusOK)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
