package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ragme/features/document"
	"ragme/features/job"
	"ragme/features/mcp"
	"ragme/features/query"
	"ragme/features/stats"
	"ragme/internal/adapter/embedder"
	"ragme/internal/adapter/weaviate"
	"ragme/internal/agent"
	"ragme/internal/config"
	"ragme/internal/middleware"
	"ragme/internal/reader"
	"ragme/internal/retrieval"
	"ragme/internal/settings"
	"ragme/internal/worker"
)

// App owns the wired service graph: one mux over every feature, the
// ingestion orchestrator, both agents, and the NSQ consumer handler.
// The consumer is constructed here but connected to nsqd by the
// caller, so the HTTP surface and the worker can be toggled
// independently.
type App struct {
	Handler         http.Handler
	DocumentService *document.Service
	QueryAgent      *agent.QueryAgent
	FunctionAgent   *agent.FunctionAgent
	IngestConsumer  *worker.IngestConsumer

	port int
}

func New(cfg *config.Config, db *sql.DB, store *weaviate.Store, publisher job.EventPublisher) *App {
	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	settingsHandler := settings.NewHandler(settingsService)

	// Embedding provider, resolved from settings on every call.
	// Credentials stay in the environment; settings only pick the
	// provider and model.
	dynamicEmbedder := embedder.NewDynamic(settingsService, embedder.DefaultFactory(embedder.Keys{
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
	}))

	web := reader.NewWebReader(
		time.Duration(cfg.ReaderTimeoutSeconds)*time.Second,
		cfg.ReaderUserAgent,
		cfg.ReaderMaxBodyBytes,
	)

	// Feature: Document (ingestion orchestrator + registry)
	docRepo := document.NewPostgresRepo(db)
	docService := document.NewService(&pageReaderAdapter{web: web}, store, docRepo, settingsService, dynamicEmbedder)
	docHandler := document.NewHandler(docService)

	// Feature: Job (async ingestion)
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, publisher)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, jobRepo, store)

	// Retrieval & agents
	queryLogger := retrieval.NewQueryLogger(db)
	retrievalService := retrieval.NewService(store, dynamicEmbedder, settingsService, queryLogger)

	var clientOpts []option.RequestOption
	if cfg.OpenAIAPIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.OpenAIAPIKey))
	}
	if cfg.OpenAIBaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	chatClient := openai.NewClient(clientOpts...)

	queryAgent := agent.NewQueryAgent(chatClient, cfg.ChatModel, retrievalService, cfg.AgentMaxSource)
	functionAgent := agent.NewFunctionAgent(chatClient, cfg.ChatModel, docService, queryAgent, cfg.AgentMaxSteps)
	queryHandler := query.NewHandler(queryAgent, functionAgent)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(docService, queryAgent)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /api/documents", middleware.CorrelationID(enableCORS(docHandler.Create)))
	mux.Handle("GET /api/documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /api/documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("DELETE /api/documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Delete)))
	mux.Handle("POST /api/documents/{id}/resync", middleware.CorrelationID(enableCORS(docHandler.ReSync)))

	mux.Handle("POST /api/jobs", middleware.CorrelationID(enableCORS(jobHandler.Create)))
	mux.Handle("GET /api/jobs", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("GET /api/jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Get)))
	mux.Handle("POST /api/jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("POST /api/query", middleware.CorrelationID(enableCORS(queryHandler.Query)))
	mux.Handle("POST /api/agent", middleware.CorrelationID(enableCORS(queryHandler.Agent)))

	mux.Handle("GET /api/settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /api/settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /api/stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	// Method-specific patterns never match preflight requests, so
	// OPTIONS gets its own catch-all under /api/.
	mux.Handle("OPTIONS /api/", enableCORS(func(w http.ResponseWriter, r *http.Request) {}))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	ingestConsumer := worker.NewIngestConsumer(docService, jobRepo)

	return &App{
		Handler:         mux,
		DocumentService: docService,
		QueryAgent:      queryAgent,
		FunctionAgent:   functionAgent,
		IngestConsumer:  ingestConsumer,
		port:            cfg.ServerPort,
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// pageReaderAdapter narrows the web reader to the orchestrator's
// PageRecord contract.
type pageReaderAdapter struct {
	web *reader.WebReader
}

func (a *pageReaderAdapter) Load(ctx context.Context, urls []string) ([]document.PageRecord, error) {
	pages, err := a.web.Load(ctx, urls)
	if err != nil {
		return nil, err
	}
	records := make([]document.PageRecord, len(pages))
	for i, p := range pages {
		records[i] = document.PageRecord{ID: p.URL, Title: p.Title, Text: p.Text}
	}
	return records, nil
}
