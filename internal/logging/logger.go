// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and optional rotated log file.
type Config struct {
	Level string `toml:"level" env:"LOG_LEVEL"`
	Dev   bool   `toml:"dev" env:"LOG_DEV"`

	// File enables a rotated JSON log next to stdout. The pattern may contain
	// strftime verbs, e.g. "/var/log/mfa/server.%Y%m%d.log".
	File         string        `toml:"file" env:"LOG_FILE"`
	MaxAge       time.Duration `toml:"max_age" env:"LOG_MAX_AGE"`
	RotationTime time.Duration `toml:"rotation_time" env:"LOG_ROTATION_TIME"`
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a logger for cfg. Dev mode uses zap's console development
// config; otherwise JSON with ISO8601 timestamps is written to stdout and,
// when File is set, to a rotated file.
func New(cfg Config) (*zap.Logger, error) {
	return newWithStdout(cfg, os.Stdout)
}

func newWithStdout(cfg Config, stdout io.Writer) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev && cfg.File == "" {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(stdout), lvl),
	}

	if cfg.File != "" {
		w, err := rotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), lvl))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func rotatingWriter(cfg Config) (io.Writer, error) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.RotationTime == 0 {
		cfg.RotationTime = 24 * time.Hour
	}
	if cfg.MaxAge < 0 || cfg.RotationTime < 0 {
		return nil, errors.New("log rotation durations must be >= 0")
	}
	return rotatelogs.New(
		cfg.File,
		rotatelogs.WithMaxAge(cfg.MaxAge),
		rotatelogs.WithRotationTime(cfg.RotationTime),
	)
}
