package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
	maxPatternLen   = 200
)

// lengthMask hides a value but keeps its length, which is usually enough
// to tell an empty key from a configured one.
type lengthMask int

func (n lengthMask) String() string { return fmt.Sprintf("[REDACTED:%d]", int(n)) }

// Secret logs a configured secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Stringer(key, lengthMask(len(val.Value())))
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.Stringer(key, lengthMask(len(val)))
}

// rules decides what gets masked: a field whose lowercased key is listed,
// or a string value matching any pattern.
type rules struct {
	keys   map[string]struct{}
	values []*regexp.Regexp
}

func compileRules(cfg RedactionConfig) (*rules, error) {
	r := &rules{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		r.values = append(r.values, re)
	}
	return r, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
	}
	return re, nil
}

func (r *rules) sensitiveKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *rules) sensitiveValue(val string) bool {
	for _, re := range r.values {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// RedactingEncoder masks sensitive fields before they reach the wrapped
// encoder. Credentials should still be logged with Secret.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *rules
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	r, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: r}, nil
}

// mask writes the placeholder for a sensitive key and reports whether it did.
func (e *RedactingEncoder) mask(key string) bool {
	if !e.rules.sensitiveKey(key) {
		return false
	}
	e.Encoder.AddString(key, redacted)
	return true
}

func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.mask(key):
	case e.rules.sensitiveValue(val):
		e.Encoder.AddString(key, redactedPattern)
	default:
		e.Encoder.AddString(key, val)
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if !e.mask(key) {
		e.Encoder.AddByteString(key, val)
	}
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if !e.mask(key) {
		e.Encoder.AddBinary(key, val)
	}
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}

// EncodeEntry applies the entry's own fields through the redacting methods;
// the wrapped encoder would otherwise add them to a clone of itself.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	c := &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
	for i := range fields {
		fields[i].AddTo(c)
	}
	return c.Encoder.EncodeEntry(ent, nil)
}
