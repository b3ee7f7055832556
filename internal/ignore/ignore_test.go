package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"empty line", "", nil},
		{"whitespace only", "   ", nil},
		{"comment", "# drafts", nil},
		{"negation skipped", "!keep.txt", nil},
		{"file glob", "*.log", []string{"*.log"}},
		{"bare name", "drafts", []string{"drafts", "drafts/**"}},
		{"directory", "archive/", []string{"archive/**"}},
		{"rooted directory", "/build/", []string{"build/**"}},
		{"double star prefix", "**/tmp/", []string{"tmp/**"}},
		{"subtree", "notes/old/**", []string{"notes/old/**"}},
		{"file name", "secret.txt", []string{"secret.txt"}},
		{"trailing space", "*.bak  ", []string{"*.bak"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}

func TestPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".docragignore"), []byte("# local\ndrafts/\n*.tmp\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.tmp\nbuild/\n"), 0o644))

	patterns, err := NewParser().Patterns(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"drafts/**", "*.tmp", "build/**"}, patterns)
}

func TestPatterns_NoFiles(t *testing.T) {
	patterns, err := NewParser().Patterns(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestPatterns_CustomFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ragignore"), []byte("*.csv\n"), 0o644))

	p := NewParser(".ragignore")
	patterns, err := p.Patterns(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.csv"}, patterns)
	assert.True(t, p.IsIgnoreFile(".ragignore"))
	assert.False(t, p.IsIgnoreFile(".gitignore"))
}

func TestPatterns_Unreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory where a file is expected fails to read.
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".gitignore"), 0o755))

	_, err := NewParser().Patterns(dir)
	assert.Error(t, err)
}
