// Package config loads docrag configuration.
//
// Sources, lowest precedence first:
//
//  1. Built-in defaults
//  2. The YAML config file
//  3. Legacy environment variables (HF_TOKEN, EMBED_MODEL_NAME,
//     LLM_MODEL_NAME, DATA_PATH)
//  4. SECTION_FIELD environment variables (STORAGE_PATH,
//     QUERY_SIMILARITY_CUTOFF, EMBEDDINGS_API_KEY, ...)
//
// A .env file in the working directory is read into the environment first.
package config

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/segment"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

// Config is the complete docrag configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	Segmenter  SegmenterConfig  `koanf:"segmenter"`
	Query      query.Config     `koanf:"query"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Synthesis  SynthesisConfig  `koanf:"synthesis"`
	Source     SourceConfig     `koanf:"source"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StorageConfig locates the persisted index.
type StorageConfig struct {
	Path            string `koanf:"path"`
	KeepGenerations int    `koanf:"keep_generations"`
	Compress        bool   `koanf:"compress"`
}

// SegmenterConfig sizes segments in runes.
type SegmenterConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	CacheDir    string  `koanf:"cache_dir"`
	Dimension   int     `koanf:"dimension"`
	BatchSize   int     `koanf:"batch_size"`
	Concurrency int     `koanf:"concurrency"`
	RateLimit   float64 `koanf:"rate_limit"`
	Burst       int     `koanf:"burst"`
}

// SynthesisConfig selects the answer synthesizer.
type SynthesisConfig struct {
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
	MaxChars    int      `koanf:"max_chars"`
}

// SourceConfig describes the data directory.
type SourceConfig struct {
	Path        string   `koanf:"path"`
	Include     []string `koanf:"include"`
	Exclude     []string `koanf:"exclude"`
	MaxFileSize int64    `koanf:"max_file_size"`
	Debounce    Duration `koanf:"debounce"`
}

// Options converts to loader options.
func (s SourceConfig) Options() source.Options {
	return source.Options{Include: s.Include, Exclude: s.Exclude, MaxFileSize: s.MaxFileSize}
}

// RedactionConfig enables secret scrubbing of segment text.
type RedactionConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig is the file-level view of logging.Config.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig is the file-level view of telemetry.Config.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	Metrics        bool     `koanf:"metrics"`
	ExportInterval Duration `koanf:"export_interval"`
}

var (
	embeddingProviders = []string{"fastembed", "tei", "openai", "hash"}
	synthesisProviders = []string{"llm", "extractive"}
	logFormats         = []string{"json", "console"}
	otlpProtocols      = []string{"grpc", "http/protobuf"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.KeepGenerations < 1 {
		return fmt.Errorf("storage.keep_generations must be at least 1, got %d", c.Storage.KeepGenerations)
	}
	if err := segment.Validate(c.Segmenter.Size, c.Segmenter.Overlap); err != nil {
		return fmt.Errorf("segmenter: %w", err)
	}
	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if !oneOf(c.Embeddings.Provider, embeddingProviders) {
		return fmt.Errorf("embeddings.provider must be one of %v, got %q", embeddingProviders, c.Embeddings.Provider)
	}
	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("embeddings.rate_limit cannot be negative")
	}
	if !oneOf(c.Synthesis.Provider, synthesisProviders) {
		return fmt.Errorf("synthesis.provider must be one of %v, got %q", synthesisProviders, c.Synthesis.Provider)
	}
	if err := c.Source.Options().Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 1-65535, got %d", c.Server.Port)
	}
	if !oneOf(c.Logging.Format, logFormats) {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Telemetry.Enabled && !oneOf(c.Telemetry.Protocol, otlpProtocols) {
		return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
	}
	return nil
}
