package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink receives log messages above a severity threshold, typically a
// notification fan-out.
type Sink interface {
	Send(message string)
}

// NewLogger creates a new zap.Logger instance based on the provided
// configuration. When sink is non-nil, every entry at WARN or above is also
// forwarded to it.
func NewLogger(level string, format string, sink Sink) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	if sink != nil {
		log = log.WithOptions(zap.Hooks(func(entry zapcore.Entry) error {
			if entry.Level >= zapcore.WarnLevel {
				sink.Send(entry.Level.CapitalString() + ": " + entry.Message)
			}
			return nil
		}))
	}

	return log, nil
}
