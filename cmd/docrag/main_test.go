package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/service"
)

type cli struct {
	config string
	data   string
}

// newCLI writes a config using the offline hash embedder and the
// extractive synthesizer.
func newCLI(t *testing.T) *cli {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	for _, name := range []string{"HF_TOKEN", "EMBED_MODEL_NAME", "LLM_MODEL_NAME", "DATA_PATH"} {
		t.Setenv(name, "")
	}

	c := &cli{config: filepath.Join(root, "config.yaml"), data: filepath.Join(root, "data")}
	content := fmt.Sprintf(`
storage:
  path: %s
source:
  path: %s
segmenter:
  size: 512
  overlap: 0
embeddings:
  provider: hash
synthesis:
  provider: extractive
logging:
  level: error
`, filepath.Join(root, "storage"), c.data)
	require.NoError(t, os.WriteFile(c.config, []byte(content), 0o600))
	require.NoError(t, os.MkdirAll(c.data, 0o755))
	return c
}

func (c *cli) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(c.data, name), []byte(content), 0o644))
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	outputJSON, ingestFirst, dataDir, storageDir = false, false, "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--config", c.config))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_Registered(t *testing.T) {
	want := []string{"ingest", "query", "serve", "mcp", "watch", "stats", "reset", "version"}
	var got []string
	for _, cmd := range rootCmd.Commands() {
		got = append(got, cmd.Name())
		assert.NotEmpty(t, cmd.Short, cmd.Name())
	}
	assert.Subset(t, got, want)
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docrag dev")
}

func TestIngestQueryStatsReset(t *testing.T) {
	c := newCLI(t)
	c.write(t, "lighthouse.txt", "The lighthouse keeper lit the lamp at dusk.")
	c.write(t, "orchard.txt", "Apples ripen in the orchard during autumn.")

	out, err := c.run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "NEW")
	assert.Contains(t, out, "committed generation")

	out, err = c.run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "UNCHANGED")
	assert.Contains(t, out, "index up to date")

	out, err = c.run(t, "query", "--json", "lighthouse keeper lit lamp dusk")
	require.NoError(t, err)
	var res query.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "lighthouse.txt", res.Sources[0].Identity)

	out, err = c.run(t, "stats", "--json")
	require.NoError(t, err)
	var st service.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Len(t, st.Documents, 2)
	assert.NotZero(t, st.Generation)

	out, err = c.run(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	_, err = c.run(t, "query", "lighthouse keeper")
	assert.ErrorIs(t, err, rag.ErrNoCandidates)
}

func TestQuery_IngestFirst(t *testing.T) {
	c := newCLI(t)
	c.write(t, "orchard.txt", "Apples ripen in the orchard during autumn.")

	out, err := c.run(t, "query", "--ingest", "apples ripen orchard autumn")
	require.NoError(t, err)
	assert.Contains(t, out, "orchard.txt")
}

func TestIngest_NoDocuments(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "ingest")
	assert.ErrorIs(t, err, rag.ErrNoDocuments)
}

func TestDataFlagOverridesConfig(t *testing.T) {
	c := newCLI(t)
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "notes.md"), []byte("tide tables for the harbour"), 0o644))

	out, err := c.run(t, "ingest", "--data", other)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.md")
}
