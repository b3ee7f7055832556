package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, Trace included, for inspection.
type TestLogger struct {
	*Logger
	Logs *observer.ObservedLogs
}

// NewTestLogger returns a logger backed by an in-memory observer.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, Logs: logs}
}

// Field returns the value of key on the first entry whose message is msg.
// Integer fields come back as int64.
func (t *TestLogger) Field(msg, key string) (any, bool) {
	for _, e := range t.Logs.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if t.Logs.FilterLevelExact(level).FilterMessageSnippet(substr).Len() == 0 {
		tb.Errorf("no %s entry containing %q among %d entries", level, substr, t.Logs.Len())
	}
}

// AssertNoSecrets fails tb if a plain string field under a sensitive key,
// or any message or string value matching a default redaction pattern,
// reached the log.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	r, err := compileRules(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
	}
	for _, e := range t.Logs.All() {
		if r.sensitiveValue(e.Message) {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if r.sensitiveKey(f.Key) && f.String != "" && !strings.HasPrefix(f.String, redacted[:len(redacted)-1]) {
				tb.Errorf("field %q logged in clear", f.Key)
			}
			if r.sensitiveValue(f.String) {
				tb.Errorf("secret in field %q", f.Key)
			}
		}
	}
}
