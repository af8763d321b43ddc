// Package logging builds the zap loggers used across authcore.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and output.
type Config struct {
	Level string `env:"LEVEL" envDefault:"info"`
	// Dev switches to the human-readable console encoder.
	Dev bool `env:"DEV"`
	// File, when set, additionally writes JSON logs to a rotating file.
	// The rotation suffix %Y%m%d is appended to the path.
	File         string        `env:"FILE"`
	MaxAge       time.Duration `env:"MAX_AGE" envDefault:"168h"`
	RotationTime time.Duration `env:"ROTATION_TIME" envDefault:"24h"`
}

// LevelFromString maps a level name to a zap level, defaulting to info.
func LevelFromString(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger from cfg. Production output is JSON on stdout with
// ISO8601 timestamps, caller info and stack traces at error level.
func New(cfg Config) (*zap.Logger, error) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg Config, stdout io.Writer) (*zap.Logger, error) {
	lvl := LevelFromString(cfg.Level)

	var cores []zapcore.Core
	if cfg.Dev {
		encCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(stdout), lvl))
	} else {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionEncoderConfig()), zapcore.AddSync(stdout), lvl))
	}

	if cfg.File != "" {
		w, err := rotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionEncoderConfig()), zapcore.AddSync(w), lvl))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Dev {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func productionEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return encCfg
}

func rotatingWriter(cfg Config) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	opts := []rotatelogs.Option{rotatelogs.WithLinkName(cfg.File)}
	if cfg.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(cfg.MaxAge))
	}
	if cfg.RotationTime > 0 {
		opts = append(opts, rotatelogs.WithRotationTime(cfg.RotationTime))
	}
	w, err := rotatelogs.New(cfg.File+".%Y%m%d", opts...)
	if err != nil {
		return nil, fmt.Errorf("open rotating log %s: %w", cfg.File, err)
	}
	return w, nil
}

// Named returns base named "authcore.<component>", or a no-op logger when
// base is nil.
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named("authcore." + component)
}
