package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"ragme"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"ragme"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateAPIKey string `envconfig:"WEAVIATE_API_KEY"`

	// VectorCollection is the Weaviate class webpage objects are written to.
	VectorCollection string `envconfig:"VECTOR_COLLECTION" default:"RagMeDocs"`
	// Vectorizer is the server-side vectorizer module configured on the
	// collection. "none" disables it, in which case a client-side
	// embedding provider must be selected in settings.
	Vectorizer string `envconfig:"WEAVIATE_VECTORIZER" default:"text2vec-openai"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	AgentMaxSteps  int    `envconfig:"AGENT_MAX_STEPS" default:"5"`
	AgentMaxSource int    `envconfig:"AGENT_MAX_SOURCES" default:"5"`

	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"` // 1MB

	EnableAPI          bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Reader
	ReaderTimeoutSeconds int    `envconfig:"READER_TIMEOUT_SECONDS" default:"30"`
	ReaderUserAgent      string `envconfig:"READER_USER_AGENT" default:"ragme/1.0 (+https://github.com/maximilien/ragme-io)"`
	ReaderMaxBodyBytes   int64  `envconfig:"READER_MAX_BODY_BYTES" default:"5242880"` // 5MB

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8021"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.WeaviateHost == "" {
		return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
	}
	if c.VectorCollection == "" {
		return fmt.Errorf("%w: VECTOR_COLLECTION", ErrMissingRequired)
	}
	return nil
}
