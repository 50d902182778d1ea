package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ephemeral-chat/internal/config"
)

// New builds the process logger: console output in development, JSON otherwise.
func New(mode config.LoggerMode) (*zap.Logger, error) {
	var cfg zap.Config
	if mode.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(mode.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
