// Package observability provides the CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process-wide logger used by commands. It is a no-op
// logger until InitCLILogger runs.
var CLILogger = zap.NewNop()

var (
	cliLevel   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cliConsole zapcore.Core
)

// FileConfig configures the rotated JSON log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitCLILogger installs a console logger writing to stderr. verbose lowers
// the level to debug.
func InitCLILogger(name string, verbose bool) {
	if verbose {
		cliLevel.SetLevel(zapcore.DebugLevel)
	} else {
		cliLevel.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = nil

	cliConsole = zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		cliLevel,
	)
	CLILogger = zap.New(cliConsole).Named(name)
}

// SetLevel changes the CLI log level ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	l, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cliLevel.SetLevel(l)
	return nil
}

// AttachLogFile tees CLILogger into a rotated JSON log file. The returned
// function syncs and closes the file.
func AttachLogFile(name string, cfg FileConfig) (func(), error) {
	if cfg.Path == "" {
		return func() {}, nil
	}
	if cliConsole == nil {
		InitCLILogger(name, false)
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	if _, err := sink.Write(nil); err != nil {
		return nil, fmt.Errorf("open log file %s: %w", cfg.Path, err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(sink),
		cliLevel,
	)
	CLILogger = zap.New(zapcore.NewTee(cliConsole, fileCore)).Named(name)

	return func() {
		_ = CLILogger.Sync()
		_ = sink.Close()
	}, nil
}
