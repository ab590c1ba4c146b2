// Package config provides configuration loading for docqa.
//
// Configuration comes from a YAML file overridden by DOCQA_* environment
// variables; see LoadWithFile. Missing values receive defaults and the
// result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

// Config holds the complete docqa configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Storage       StorageConfig       `koanf:"storage"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Auth          AuthConfig          `koanf:"auth"`
	Cache         CacheConfig         `koanf:"cache"`
	Events        EventsConfig        `koanf:"events"`
	Ingest        IngestConfig        `koanf:"ingest"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	Host            string        `koanf:"host"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// BodyLimit is an echo size string such as "25M".
	BodyLimit string `koanf:"body_limit"`
	// RateLimit is requests per second per client on /api; 0 disables it.
	RateLimit   float64  `koanf:"rate_limit"`
	RateBurst   int      `koanf:"rate_burst"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Driver      string `koanf:"driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN Secret `koanf:"postgres_dsn"`
	// FilesDir holds the uploaded originals.
	FilesDir string `koanf:"files_dir"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
	// ONNXPath points at libonnxruntime for the fastembed provider. When
	// empty, ONNX_PATH and then ONNXDir are searched.
	ONNXPath        string `koanf:"onnx_path"`
	ONNXDir         string `koanf:"onnx_dir"`
	ONNXAutoInstall bool   `koanf:"onnx_auto_install"`
}

// LLMConfig selects the chat model used for free-form answers.
type LLMConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      Secret        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

// RetrievalConfig tunes ranking and diversity selection.
type RetrievalConfig struct {
	TopK       int     `koanf:"top_k"`
	MMREnabled bool    `koanf:"mmr_enabled"`
	MMRLambda  float64 `koanf:"mmr_lambda"`
	MMRFetchK  int     `koanf:"mmr_fetch_k"`
	WidenLimit int     `koanf:"widen_limit"`
}

// AuthConfig controls bearer tokens and password hashing.
type AuthConfig struct {
	TokenTTL   time.Duration `koanf:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

// CacheConfig controls the answer cache.
type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	Size    int           `koanf:"size"`
	TTL     time.Duration `koanf:"ttl"`
}

// EventsConfig configures ingest job events. An empty NATSURL disables publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// IngestConfig controls upload processing.
type IngestConfig struct {
	Concurrency   int    `koanf:"concurrency"`
	MaxFileMB     int    `koanf:"max_file_mb"`
	ChunkTokens   int    `koanf:"chunk_tokens"`
	OverlapTokens int    `koanf:"overlap_tokens"`
	TesseractPath string `koanf:"tesseract_path"`
}

var (
	storageDrivers  = []string{"sqlite", "postgres", "memory"}
	embedProviders  = []string{"fastembed", "openai"}
	llmProviders    = []string{"langchain", "openai"}
	logFormats      = []string{"json", "console"}
	otlpProtocols   = []string{"grpc", "http/protobuf"}
	errInvalidValue = errors.New("invalid configuration value")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Cache: CacheConfig{Enabled: true}}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "50M"
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "docqa"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	// Storage defaults (sqlite is embedded, no external services)
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/docqa.db"
	}
	if cfg.Storage.FilesDir == "" {
		cfg.Storage.FilesDir = "data/uploads"
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}

	// LLM defaults target Groq's OpenAI-compatible endpoint.
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "langchain"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3-70b-8192"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv("GROQ_API_KEY"))
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.MMRLambda == 0 {
		cfg.Retrieval.MMRLambda = 0.7
	}
	if cfg.Retrieval.MMRFetchK == 0 {
		cfg.Retrieval.MMRFetchK = 20
	}
	if cfg.Retrieval.WidenLimit == 0 {
		cfg.Retrieval.WidenLimit = 300
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}

	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 512
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "docqa.jobs"
	}

	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.MaxFileMB == 0 {
		cfg.Ingest.MaxFileMB = 25
	}
	if cfg.Ingest.ChunkTokens == 0 {
		cfg.Ingest.ChunkTokens = 900
	}
	if cfg.Ingest.OverlapTokens == 0 {
		cfg.Ingest.OverlapTokens = 120
	}
	if cfg.Ingest.TesseractPath == "" {
		cfg.Ingest.TesseractPath = "tesseract"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rate_limit must be >= 0", errInvalidValue)
	}

	if err := oneOf("logging.format", c.Logging.Format, logFormats); err != nil {
		return err
	}
	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if err := oneOf("observability.protocol", c.Observability.Protocol, otlpProtocols); err != nil {
			return err
		}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("%w: observability.sample_rate must be in [0,1], got %v", errInvalidValue, c.Observability.SampleRate)
	}

	if err := oneOf("storage.driver", c.Storage.Driver, storageDrivers); err != nil {
		return err
	}
	if c.Storage.Driver == "postgres" && !c.Storage.PostgresDSN.IsSet() {
		return errors.New("storage.postgres_dsn required for the postgres driver")
	}
	if err := oneOf("embeddings.provider", c.Embeddings.Provider, embedProviders); err != nil {
		return err
	}
	if c.Embeddings.Provider == "openai" && c.Embeddings.BaseURL == "" {
		return errors.New("embeddings.base_url required for the openai provider")
	}
	if err := oneOf("llm.provider", c.LLM.Provider, llmProviders); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be in [0,2], got %v", errInvalidValue, c.LLM.Temperature)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", errInvalidValue)
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("%w: retrieval.mmr_lambda must be in [0,1], got %v", errInvalidValue, c.Retrieval.MMRLambda)
	}
	if c.Retrieval.MMRFetchK < c.Retrieval.TopK {
		return fmt.Errorf("%w: retrieval.mmr_fetch_k (%d) must be >= top_k (%d)",
			errInvalidValue, c.Retrieval.MMRFetchK, c.Retrieval.TopK)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("%w: auth.bcrypt_cost must be in [4,31], got %d", errInvalidValue, c.Auth.BcryptCost)
	}

	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("%w: ingest.concurrency must be positive", errInvalidValue)
	}
	if c.Ingest.ChunkTokens < 1 || c.Ingest.OverlapTokens < 0 {
		return fmt.Errorf("%w: ingest chunk sizes", errInvalidValue)
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%w: %s %q (allowed: %v)", errInvalidValue, field, value, allowed)
}
