// Package source reads documents from a data directory and watches it for
// changes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docrag/internal/ignore"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

const (
	// DefaultMaxFileSize is used when Options.MaxFileSize is zero.
	DefaultMaxFileSize int64 = 1024 * 1024
	// MaxFileSizeLimit is the largest accepted Options.MaxFileSize.
	MaxFileSizeLimit int64 = 10 * 1024 * 1024
)

// Metadata keys set on every loaded document besides rag.MetaFilePath and
// rag.MetaFileName.
const (
	MetaFileSize  = "file_size"
	MetaExtension = "extension"
)

// ErrInvalidPath is returned when the data directory is missing or not a directory.
var ErrInvalidPath = errors.New("invalid data path")

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
}

// Options filters the files LoadDir reads.
type Options struct {
	// Include patterns match the base name or the slash-separated relative
	// path. Empty includes everything.
	Include []string `json:"include" koanf:"include"`
	// Exclude patterns take precedence over Include. A pattern ending in
	// "/**" excludes a whole subtree.
	Exclude []string `json:"exclude" koanf:"exclude"`
	// MaxFileSize in bytes. Larger files are skipped.
	MaxFileSize int64 `json:"max_file_size" koanf:"max_file_size"`
}

// Validate checks the patterns and size bounds.
func (o Options) Validate() error {
	if o.MaxFileSize < 0 || o.MaxFileSize > MaxFileSizeLimit {
		return fmt.Errorf("%w: max_file_size must be within [0, %d]", rag.ErrConfiguration, MaxFileSizeLimit)
	}
	for _, p := range append(append([]string{}, o.Include...), o.Exclude...) {
		if _, err := filepath.Match(strings.TrimSuffix(p, "/**"), "test"); err != nil {
			return fmt.Errorf("%w: invalid pattern %q: %v", rag.ErrConfiguration, p, err)
		}
	}
	return nil
}

// LoadDir reads every matching UTF-8 file below dir, in lexical path order.
// Binary files, files over the size limit and well-known tool directories
// are skipped, as is anything matched by a .docragignore or .gitignore
// in dir. Each document carries its absolute path and base name as
// metadata, so its identity is the file name.
func LoadDir(ctx context.Context, dir string, opts Options) ([]rag.Document, error) {
	root, err := validateDir(dir)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	ignored := ignore.NewParser()
	extra, err := ignored.Patterns(root)
	if err != nil {
		return nil, err
	}
	opts.Exclude = append(append([]string{}, opts.Exclude...), extra...)

	var docs []rag.Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || ignored.IsIgnoreFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !shouldInclude(rel, info.Size(), opts) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file %s: %w", rel, err)
		}
		if !utf8.Valid(content) {
			return nil
		}

		docs = append(docs, rag.Document{
			Identity: rel,
			Text:     string(content),
			Metadata: map[string]string{
				rag.MetaFilePath: path,
				rag.MetaFileName: d.Name(),
				MetaFileSize:     strconv.FormatInt(info.Size(), 10),
				MetaExtension:    filepath.Ext(path),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return docs, nil
}

func validateDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s does not exist", ErrInvalidPath, abs)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, abs)
	}
	return abs, nil
}

func shouldInclude(rel string, size int64, opts Options) bool {
	if size > opts.MaxFileSize {
		return false
	}
	base := pathBase(rel)

	for _, pattern := range opts.Exclude {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return false
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return false
		}
	}

	if len(opts.Include) == 0 {
		return true
	}
	for _, pattern := range opts.Include {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func pathBase(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
