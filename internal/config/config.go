// Package config provides configuration types and loading for groupjournal.
package config

import "time"

// Config is the root configuration struct. It is built once at startup by
// Load and handed to constructors section by section; handler code never
// reads the environment itself.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Model     ModelConfig     `json:"model"`
	Provider  ProviderConfig  `json:"provider"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Synthesis SynthesisConfig `json:"synthesis"`
	Cascade   CascadeConfig   `json:"cascade"`
	Backfill  BackfillConfig  `json:"backfill"`
	Artifact  ArtifactConfig  `json:"artifact"`
	Store     StoreConfig     `json:"store"`
	Bus       BusConfig       `json:"bus"`
	Log       LogConfig       `json:"log"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP server networking
// ---------------------------------------------------------------------------

// GatewayConfig contains HTTP API settings.
type GatewayConfig struct {
	Host            string        `json:"host" envconfig:"GATEWAY_HOST"`
	Port            int           `json:"port" envconfig:"GATEWAY_PORT"`
	AuthToken       string        `json:"authToken" envconfig:"GATEWAY_AUTH_TOKEN"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" envconfig:"GATEWAY_SHUTDOWN_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Model / Provider – LLM access
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL_NAME"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MODEL_MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"MODEL_TEMPERATURE"`
}

// ProviderConfig contains the OpenAI-compatible endpoint settings.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"PROVIDER_API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"PROVIDER_API_BASE"`
}

// ---------------------------------------------------------------------------
// Pipeline – analysis, synthesis, cascade, backfill
// ---------------------------------------------------------------------------

// AnalysisConfig configures the per-item analysis trigger.
type AnalysisConfig struct {
	Kinds     []string      `json:"kinds" envconfig:"ANALYSIS_KINDS"`
	Timeout   time.Duration `json:"timeout" envconfig:"ANALYSIS_TIMEOUT"`
	Threshold int           `json:"threshold" envconfig:"ANALYSIS_THRESHOLD"`
}

// SynthesisConfig configures group synthesis.
type SynthesisConfig struct {
	CorpusBudget int           `json:"corpusBudget" envconfig:"SYNTHESIS_CORPUS_BUDGET"`
	Timeout      time.Duration `json:"timeout" envconfig:"SYNTHESIS_TIMEOUT"`
	Retries      int           `json:"retries" envconfig:"SYNTHESIS_RETRIES"`
}

// CascadeConfig bounds syntheses started by the per-item cascade.
type CascadeConfig struct {
	MaxConcurrent int `json:"maxConcurrent" envconfig:"CASCADE_MAX_CONCURRENT"`
}

// BackfillConfig configures batch re-synthesis.
type BackfillConfig struct {
	Workers  int           `json:"workers" envconfig:"BACKFILL_WORKERS"`
	Cooldown time.Duration `json:"cooldown" envconfig:"BACKFILL_COOLDOWN"`
	Interval time.Duration `json:"interval" envconfig:"BACKFILL_INTERVAL"` // 0 disables scheduled runs
	LockPath string        `json:"lockPath" envconfig:"BACKFILL_LOCK_PATH"`
}

// ArtifactConfig configures QR artifact generation.
type ArtifactConfig struct {
	IdentityBaseURL string `json:"identityBaseUrl" envconfig:"ARTIFACT_IDENTITY_BASE_URL"`
	Size            int    `json:"size" envconfig:"ARTIFACT_SIZE"`
}

// ---------------------------------------------------------------------------
// Infrastructure – storage, bus, logging
// ---------------------------------------------------------------------------

// StoreConfig selects the content store backend.
type StoreConfig struct {
	Driver      string `json:"driver" envconfig:"STORE_DRIVER"` // "sqlite", "sqlite3" or "postgres"
	DSN         string `json:"dsn" envconfig:"STORE_DSN"`
	GroupColumn string `json:"groupColumn,omitempty" envconfig:"STORE_GROUP_COLUMN"`
}

// BusConfig selects how synthesis requests travel from the cascade to the
// dispatcher.
type BusConfig struct {
	Driver        string `json:"driver" envconfig:"BUS_DRIVER"` // "memory" or "kafka"
	KafkaBrokers  string `json:"kafkaBrokers" envconfig:"BUS_KAFKA_BROKERS"`
	Topic         string `json:"topic" envconfig:"BUS_TOPIC"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"BUS_CONSUMER_GROUP"`
	BufferSize    int    `json:"bufferSize" envconfig:"BUS_BUFFER_SIZE"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LOG_LEVEL"`
	Format string `json:"format" envconfig:"LOG_FORMAT"` // "text" or "json"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "127.0.0.1", // Secure default
			Port:            18890,
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Name:        "anthropic/claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.3,
		},
		Analysis: AnalysisConfig{
			Kinds:     []string{"insights", "themes", "sentiment"},
			Timeout:   45 * time.Second,
			Threshold: 3,
		},
		Synthesis: SynthesisConfig{
			CorpusBudget: 24000,
			Timeout:      90 * time.Second,
			Retries:      0,
		},
		Cascade: CascadeConfig{
			MaxConcurrent: 2,
		},
		Backfill: BackfillConfig{
			Workers:  3,
			Cooldown: 24 * time.Hour,
			Interval: 0,
			LockPath: "~/.groupjournal/backfill.lock",
		},
		Artifact: ArtifactConfig{
			Size: 256,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "~/.groupjournal/groupjournal.db",
		},
		Bus: BusConfig{
			Driver:        "memory",
			Topic:         "groupjournal.synthesis.requests",
			ConsumerGroup: "groupjournal-dispatcher",
			BufferSize:    256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
