// Package ignore reads gitignore-style files from a data directory and
// turns them into source exclude patterns.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFiles are the ignore files read from the data directory root.
var DefaultFiles = []string{".docragignore", ".gitignore"}

// Parser reads ignore files.
type Parser struct {
	// Files are the ignore file names looked up in the directory root.
	Files []string
}

// NewParser creates a parser for the given file names. No names uses
// DefaultFiles.
func NewParser(files ...string) *Parser {
	if len(files) == 0 {
		files = DefaultFiles
	}
	return &Parser{Files: files}
}

// IsIgnoreFile reports whether base is one of the parser's file names.
// Ignore files are never documents themselves.
func (p *Parser) IsIgnoreFile(base string) bool {
	for _, f := range p.Files {
		if base == f {
			return true
		}
	}
	return false
}

// Patterns reads every ignore file present in dir and returns the
// combined exclude patterns, de-duplicated in file order. Missing files
// are skipped.
//
// Patterns use the source package syntax: a plain glob matches the base
// name or relative path, and "dir/**" excludes a subtree.
func (p *Parser) Patterns(dir string) ([]string, error) {
	var patterns []string
	for _, name := range p.Files {
		filePatterns, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		patterns = append(patterns, filePatterns...)
	}
	return deduplicate(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		patterns = append(patterns, parseLine(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine converts one gitignore line. Comments, blank lines and
// negations yield nothing.
func parseLine(line string) []string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return nil
	}

	line = strings.TrimPrefix(line, "/")
	line = strings.TrimPrefix(line, "**/")
	if line == "" {
		return nil
	}

	if dir, ok := strings.CutSuffix(line, "/"); ok {
		return []string{dir + "/**"}
	}
	if strings.HasSuffix(line, "/**") {
		return []string{line}
	}
	// A bare name may be a file or a directory.
	if !strings.ContainsAny(line, "*?[.") {
		return []string{line, line + "/**"}
	}
	return []string{line}
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
