// Package redact scrubs secrets from segment text before it leaves the
// process for an embedding provider or lands in the index.
//
// Detection uses the Gitleaks default rule set. Allowlists use the
// .gitleaks.toml format:
//
//	[allowlist]
//	regexes = ['''EXAMPLE-[0-9]+''']
package redact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// ProjectAllowlistFile is looked up in Options.ProjectDir.
const ProjectAllowlistFile = ".gitleaks.toml"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = fmt.Errorf("%w: invalid regex pattern", rag.ErrConfiguration)

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = fmt.Errorf("%w: invalid TOML format", rag.ErrConfiguration)
)

// RedactionsTotal counts replaced secrets by Gitleaks rule.
var RedactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "docrag",
		Subsystem: "redact",
		Name:      "secrets_total",
		Help:      "Total number of secrets redacted by rule",
	},
	[]string{"rule"},
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes []string
}

// Options configures a Redactor.
type Options struct {
	// ProjectDir is searched for a .gitleaks.toml allowlist. Optional.
	ProjectDir string
	// AllowlistFile is an extra allowlist file. Optional, but it must
	// exist when set.
	AllowlistFile string
	Logger        *zap.Logger
}

// Redactor replaces secrets with [REDACTED:<rule>] markers. It is safe for
// concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds the detector once. Building it compiles several hundred rules.
func New(opts Options) (*Redactor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allow := &Allowlist{}
	if opts.ProjectDir != "" {
		project, err := LoadAllowlist(filepath.Join(opts.ProjectDir, ProjectAllowlistFile))
		switch {
		case err == nil:
			allow.Regexes = append(allow.Regexes, project.Regexes...)
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	if opts.AllowlistFile != "" {
		user, err := LoadAllowlist(opts.AllowlistFile)
		if err != nil {
			return nil, err
		}
		allow.Regexes = append(allow.Regexes, user.Regexes...)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if err := applyAllowlist(&detector.Config, allow); err != nil {
		return nil, err
	}

	logger.Debug("secret redaction enabled", zap.Int("allowlist_patterns", len(allow.Regexes)))
	return &Redactor{detector: detector, logger: logger}, nil
}

// LoadAllowlist parses one allowlist file and validates its patterns.
// A missing file yields an error matching os.ErrNotExist.
func LoadAllowlist(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	if len(allow.Regexes) == 0 {
		return nil
	}
	global := &gitleaksConfig.Allowlist{Description: "docrag allowlist"}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Findings returns the secrets detected in text.
func (r *Redactor) Findings(text string) []Finding {
	r.mu.Lock()
	found := r.detector.DetectString(text)
	r.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: f.Secret})
	}
	return out
}

// Redact returns text with every detected secret replaced.
func (r *Redactor) Redact(text string) string {
	findings := r.Findings(text)
	if len(findings) == 0 {
		return text
	}
	for _, f := range findings {
		RedactionsTotal.WithLabelValues(f.RuleID).Inc()
	}
	r.logger.Debug("redacted secrets", zap.Int("count", len(findings)))
	return Replace(text, findings)
}

// Replace substitutes every occurrence of each finding's secret. Longer
// secrets are replaced first so a secret containing another is not split.
func Replace(text string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Secret) > len(sorted[j].Secret)
	})
	for _, f := range sorted {
		if f.Secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return text
}
