// Package logging builds the zap-backed logr.Logger the glimpse binaries
// write their diagnostics with.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where diagnostics go.
type Config struct {
	// Dir holds the log file. Empty means ~/.local/state/glimpse.
	Dir  string
	File string
	// Verbose enables debug output (logr V(1)).
	Verbose bool
	// Console also writes to stderr. The TUI leaves it off since stderr
	// belongs to the terminal UI.
	Console bool

	MaxSizeMB  int
	MaxBackups int
}

// DefaultDir returns ~/.local/state/glimpse.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "glimpse"), nil
}

// New opens a rotating JSON log file and returns a logger writing to it
// plus a func that flushes it. The file is rotated by lumberjack.
func New(cfg Config) (logr.Logger, func(), error) {
	dir := cfg.Dir
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return logr.Discard(), func() {}, err
		}
		dir = d
	}
	if cfg.File == "" {
		cfg.File = "glimpse.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("create log directory: %w", err)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	rotating := &lumberjack.Logger{
		Filename:   filepath.Join(dir, cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotating), level),
	}
	if cfg.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = zl.Sync()
		_ = rotating.Close()
	}
	return zapr.NewLogger(zl), cleanup, nil
}
