package config_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/query"
)

// isolate points HOME at an empty directory and returns a dotenv path
// that does not exist, so neither the user's config nor a stray .env
// leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{"HF_TOKEN", "EMBED_MODEL_NAME", "LLM_MODEL_NAME", "DATA_PATH"} {
		t.Setenv(name, "")
	}
	return filepath.Join(home, "missing.env")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dotenv := isolate(t)

	cfg, err := config.Load("", dotenv)
	require.NoError(t, err)

	assert.Equal(t, "./storage", cfg.Storage.Path)
	assert.Equal(t, 2, cfg.Storage.KeepGenerations)
	assert.True(t, cfg.Storage.Compress)
	assert.Equal(t, 2048, cfg.Segmenter.Size)
	assert.Equal(t, 256, cfg.Segmenter.Overlap)
	assert.Equal(t, query.DefaultConfig(), cfg.Query)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, "llm", cfg.Synthesis.Provider)
	assert.Equal(t, 60*time.Second, cfg.Synthesis.Timeout.Duration())
	assert.False(t, cfg.Synthesis.APIKey.IsSet())
	assert.Equal(t, "./data", cfg.Source.Path)
	assert.Equal(t, int64(1<<20), cfg.Source.MaxFileSize)
	assert.Equal(t, 2*time.Second, cfg.Source.Debounce.Duration())
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "docrag", cfg.Telemetry.ServiceName)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRate, 1e-9)
}

func TestLoad_File(t *testing.T) {
	dotenv := isolate(t)
	path := writeConfig(t, `
storage:
  path: /var/lib/docrag
  compress: false
query:
  similarity_cutoff: 0.3
synthesis:
  provider: extractive
  timeout: 5s
source:
  include: ["*.md", "docs/*.txt"]
`)

	cfg, err := config.Load(path, dotenv)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/docrag", cfg.Storage.Path)
	assert.False(t, cfg.Storage.Compress)
	assert.InDelta(t, 0.3, cfg.Query.SimilarityCutoff, 1e-9)
	assert.Equal(t, query.DefaultCandidatePool, cfg.Query.CandidatePool)
	assert.Equal(t, "extractive", cfg.Synthesis.Provider)
	assert.Equal(t, 5*time.Second, cfg.Synthesis.Timeout.Duration())
	assert.Equal(t, []string{"*.md", "docs/*.txt"}, cfg.Source.Include)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dotenv := isolate(t)
	path := writeConfig(t, "storage:\n  path: /from/file\n")

	t.Setenv("STORAGE_PATH", "/from/env")
	t.Setenv("STORAGE_KEEP_GENERATIONS", "5")
	t.Setenv("QUERY_MAX_SELECTED", "3")
	t.Setenv("SOURCE_INCLUDE", "*.md, *.txt,")
	t.Setenv("EMBEDDINGS_API_KEY", "emb-key")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := config.Load(path, dotenv)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Storage.KeepGenerations)
	assert.Equal(t, 3, cfg.Query.MaxSelected)
	assert.Equal(t, []string{"*.md", "*.txt"}, cfg.Source.Include)
	assert.Equal(t, "emb-key", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
}

func TestLoad_LegacyAliases(t *testing.T) {
	dotenv := isolate(t)
	t.Setenv("HF_TOKEN", "hf_legacy")
	t.Setenv("EMBED_MODEL_NAME", "sentence-transformers/all-MiniLM-L6-v2")
	t.Setenv("LLM_MODEL_NAME", "mistralai/Mistral-7B-Instruct-v0.3")
	t.Setenv("DATA_PATH", "/srv/data")

	cfg, err := config.Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "hf_legacy", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, "hf_legacy", cfg.Synthesis.APIKey.Value())
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.Embeddings.Model)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.3", cfg.Synthesis.Model)
	assert.Equal(t, "/srv/data", cfg.Source.Path)

	// Canonical names win over the aliases.
	t.Setenv("SYNTHESIS_API_KEY", "canonical")
	t.Setenv("SOURCE_PATH", "/srv/other")
	cfg, err = config.Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "canonical", cfg.Synthesis.APIKey.Value())
	assert.Equal(t, "hf_legacy", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, "/srv/other", cfg.Source.Path)
}

func TestLoad_Dotenv(t *testing.T) {
	isolate(t)
	// godotenv never overrides a set variable, so unset it while letting
	// t.Setenv restore the original afterwards.
	t.Setenv("SEGMENTER_SIZE", "")
	require.NoError(t, os.Unsetenv("SEGMENTER_SIZE"))

	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("SEGMENTER_SIZE=1024\n"), 0o600))

	cfg, err := config.Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Segmenter.Size)
}

func TestLoad_FileChecks(t *testing.T) {
	dotenv := isolate(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), dotenv)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load(t.TempDir(), dotenv)
	assert.Error(t, err)

	big := writeConfig(t, "# "+strings.Repeat("x", 1024*1024)+"\n")
	_, err = config.Load(big, dotenv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	if runtime.GOOS == "windows" {
		return
	}
	loose := writeConfig(t, "storage:\n  path: /tmp\n")
	require.NoError(t, os.Chmod(loose, 0o644))
	_, err = config.Load(loose, dotenv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")

	readOnly := writeConfig(t, "storage:\n  path: /tmp\n")
	require.NoError(t, os.Chmod(readOnly, 0o400))
	_, err = config.Load(readOnly, dotenv)
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{"QUERY_SIMILARITY_CUTOFF", "2", "similarity_cutoff"},
		{"QUERY_CANDIDATE_POOL", "0", "candidate_pool"},
		{"SEGMENTER_OVERLAP", "4096", "segmenter"},
		{"EMBEDDINGS_PROVIDER", "word2vec", "embeddings.provider"},
		{"SYNTHESIS_PROVIDER", "oracle", "synthesis.provider"},
		{"SERVER_PORT", "70000", "server.port"},
		{"LOGGING_FORMAT", "xml", "logging.format"},
		{"STORAGE_KEEP_GENERATIONS", "0", "keep_generations"},
		{"SOURCE_MAX_FILE_SIZE", "999999999", "max_file_size"},
		{"SYNTHESIS_TIMEOUT", "-1s", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			dotenv := isolate(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load("", dotenv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret(t *testing.T) {
	s := config.Secret("hf_abcdef")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hf_abcdef")
	assert.Equal(t, "hf_abcdef", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key config.Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", config.Secret("").String())
	assert.False(t, config.Secret("").IsSet())
}

func TestDuration(t *testing.T) {
	var d config.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
