package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

const defaults = `
storage:
  path: ./storage
  keep_generations: 2
  compress: true
segmenter:
  size: 2048
  overlap: 256
query:
  candidate_pool: 10
  similarity_cutoff: 0.5
  max_selected: 8
embeddings:
  provider: fastembed
  model: BAAI/bge-small-en-v1.5
  batch_size: 32
  concurrency: 4
  burst: 1
synthesis:
  provider: llm
  base_url: https://router.huggingface.co/v1
  max_tokens: 512
  temperature: 0.1
  timeout: 60s
  max_chars: 1200
source:
  path: ./data
  max_file_size: 1048576
  debounce: 2s
redaction:
  enabled: false
server:
  host: 127.0.0.1
  port: 8000
  shutdown_timeout: 10s
logging:
  level: info
  format: json
  otel: false
  sampling: true
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
  service_name: docrag
  sample_rate: 1.0
  metrics: true
  export_interval: 15s
`

// sections are the top-level keys SECTION_FIELD variables may address.
var sections = map[string]bool{
	"storage": true, "segmenter": true, "query": true, "embeddings": true,
	"synthesis": true, "source": true, "redaction": true, "server": true,
	"logging": true, "telemetry": true,
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"source.include": true,
	"source.exclude": true,
}

// legacyAliases map variables of earlier deployments to config keys.
var legacyAliases = []struct {
	env  string
	keys []string
}{
	{"HF_TOKEN", []string{"embeddings.api_key", "synthesis.api_key"}},
	{"EMBED_MODEL_NAME", []string{"embeddings.model"}},
	{"LLM_MODEL_NAME", []string{"synthesis.model"}},
	{"DATA_PATH", []string{"source.path"}},
}

// DefaultPath returns ~/.config/docrag/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

// Load reads configuration from path, the environment and the given
// dotenv files (".env" when none are given; missing dotenv files are
// ignored). An empty path uses DefaultPath, which may be absent. An
// explicit path must exist.
func Load(path string, dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	for _, alias := range legacyAliases {
		v, ok := os.LookupEnv(alias.env)
		if !ok || v == "" {
			continue
		}
		for _, key := range alias.keys {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", alias.env, err)
			}
		}
	}

	// SECTION_FIELD -> section.field; the field keeps its underscores.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		parts := strings.SplitN(strings.ToLower(key), "_", 2)
		if len(parts) != 2 || !sections[parts[0]] {
			return "", nil
		}
		name := parts[0] + "." + parts[1]
		if listKeys[name] {
			return name, splitList(value)
		}
		return name, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readConfigFile opens path once and validates it through the open
// descriptor, so the checked file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties requires 0600 or 0400 permissions, since
// the file may hold API keys, and at most 1MB.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
