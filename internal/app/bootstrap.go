package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"

	wstore "ragme/internal/adapter/weaviate"
	"ragme/internal/config"
	"ragme/internal/vector"
)

// Dependencies are the external clients the app runs on. Close releases
// them in reverse construction order.
type Dependencies struct {
	DB          *sql.DB
	Store       *wstore.Store
	NSQProducer *nsq.Producer
}

func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// Bootstrap connects to Postgres, Weaviate, and NSQ, waiting for each
// to become ready, runs migrations, and ensures the vector collection
// exists. Containers come up in arbitrary order, so every readiness
// check retries on the configured policy.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = backoff.Retry(func() error {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			slog.Warn("postgres not ready, retrying...", "error", pingErr)
			return pingErr
		}
		return nil
	}, backoff.WithContext(retryPolicy(cfg), ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
	if cfg.WeaviateAPIKey != "" {
		wCfg.AuthConfig = auth.ApiKey{Value: cfg.WeaviateAPIKey}
	}
	wClient, err := weaviate.NewClient(wCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}

	schemaClient := vector.NewSchemaAdapter(wClient)
	if err := EnsureCollectionWithRetry(ctx, schemaClient, cfg.VectorCollection, cfg.Vectorizer, retryPolicy(cfg)); err != nil {
		db.Close()
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}

	nsqCfg := nsq.NewConfig()
	// nsqCfg.MaxMsgSize = cfg.NSQMaxMsgSize // Field undefined in go-nsq v1.1.0
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		Store:       wstore.NewStore(wClient, cfg.VectorCollection),
		NSQProducer: producer,
	}, nil
}

func retryPolicy(cfg *config.Config) backoff.BackOff {
	delay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	attempts := cfg.BootstrapRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1))
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// EnsureCollectionWithRetry keeps checking the collection until the
// Weaviate schema endpoint is reachable.
func EnsureCollectionWithRetry(ctx context.Context, client vector.SchemaClient, name, vectorizer string, policy backoff.BackOff) error {
	return backoff.Retry(func() error {
		if err := vector.EnsureCollection(ctx, client, name, vectorizer); err != nil {
			slog.Warn("weaviate not ready, retrying...", "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

// Topic creation is best effort: nsqd auto-creates topics on first
// publish, pre-creating them just avoids losing the very first message
// when no consumer has registered the topic yet.
func createTopics(nsqdHTTP string) {
	go func() {
		time.Sleep(2 * time.Second)
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, config.TopicIngest)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", config.TopicIngest, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}()
}
