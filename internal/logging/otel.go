package logging

import (
	"errors"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

var errNoOutput = errors.New("at least one output must be enabled and available")

// buildCore combines the redacted local writer with the OTel bridge and
// samples the result. Records sent through the bridge are not redacted by
// the encoder, so the bridge sits behind the same level filter only.
func buildCore(cfg *Config, lp log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core
	if w := cfg.Output.Writer; w != nil {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level))
	}
	if cfg.Output.OTEL && lp != nil {
		bridge := otelzap.NewCore("github.com/fyrsmithlabs/docrag", otelzap.WithLoggerProvider(lp))
		cores = append(cores, &levelFilterCore{Core: bridge, min: cfg.Level, max: zapcore.FatalLevel})
	}
	switch len(cores) {
	case 0:
		return nil, errNoOutput
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}
