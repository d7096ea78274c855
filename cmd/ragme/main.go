// Package main provides the one-shot RagMe CLI: ingest webpages, ask
// questions, or drive the tool-calling agent without running the
// server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ragme/internal/app"
	"ragme/internal/config"
	"ragme/internal/logger"
	"ragme/internal/middleware"
)

var rootCmd = &cobra.Command{
	Use:   "ragme",
	Short: "Webpage ingestion and retrieval over the RagMe collection",
	Long: `One-shot commands against the RagMe stores.

Every command loads the same environment configuration as the server
(.env is honored), connects to Postgres and Weaviate, and exits when
the operation completes.`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <url> [url...]",
	Short: "Fetch webpages and write them to the collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question over the ingested webpages",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var agentCmd = &cobra.Command{
	Use:   "agent <prompt>",
	Short: "Run a natural-language instruction through the tool-calling agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgent,
}

var topK int

func init() {
	queryCmd.Flags().IntVar(&topK, "top-k", 0, "documents to retrieve (0 uses the stored setting)")
	rootCmd.AddCommand(ingestCmd, queryCmd, agentCmd)
}

func main() {
	// Keep info-level chatter out of command output.
	slog.SetDefault(logger.New(slog.LevelWarn))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp runs fn against a fully wired app and tears it down after.
func withApp(fn func(ctx context.Context, application *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	return fn(ctx, app.New(cfg, deps.DB, deps.Store, deps.NSQProducer))
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, application *app.App) error {
		start := time.Now()
		fmt.Printf("Ingesting %d webpage(s)...\n", len(args))

		docs, err := application.DocumentService.Ingest(ctx, args)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		for _, d := range docs {
			fmt.Printf("  %-9s %s\n", d.Status, d.URL)
		}
		fmt.Printf("Done in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, application *app.App) error {
		ans, err := application.QueryAgent.Answer(ctx, args[0], topK)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}

		fmt.Println(ans.Text)
		if len(ans.Sources) > 0 {
			fmt.Println()
			fmt.Println("Sources:")
			for _, s := range ans.Sources {
				fmt.Printf("  - %s (score %.2f)\n", s.URL, s.Score)
			}
		}
		return nil
	})
}

func runAgent(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, application *app.App) error {
		out, err := application.FunctionAgent.Run(ctx, args[0])
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		fmt.Println(out)
		return nil
	})
}
