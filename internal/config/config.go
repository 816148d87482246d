package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// APIToken protects the HTTP API; empty disables authentication
	// (local development only).
	APIToken string `envconfig:"API_TOKEN"`

	// SentryDSN enables tracing and error capture when set.
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"munikb-letters"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	CompletionModel      string `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	EmbeddingDimension   int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingTimeoutSecs int    `envconfig:"EMBEDDING_TIMEOUT_SECS" default:"30"`
	EmbeddingMaxRetries  int    `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"50"`

	GoldenThreshold float64 `envconfig:"GOLDEN_THRESHOLD" default:"0.8"`

	// Background learning worker: drains queued feedback on an interval
	// once enough records have accumulated.
	LearningInterval       time.Duration `envconfig:"LEARNING_INTERVAL" default:"24h"`
	MinFeedbackForLearning int           `envconfig:"MIN_FEEDBACK_FOR_LEARNING" default:"5"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("MUNIKB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
