// Package obslog owns the process-wide zap logger.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger = zap.NewNop()

// L returns the global logger.
func L() *zap.Logger { return globalLogger }

// Set replaces the global logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger = l
}

// InitFromEnv builds the global logger from LOG_* variables. Extra cores, such
// as a webhook alert core, are teed next to the console and file outputs.
func InitFromEnv(extra ...zapcore.Core) error {
	level := ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	console := strings.EqualFold(getenvDefault("LOG_TO_CONSOLE", "true"), "true")
	toFile := strings.EqualFold(getenvDefault("LOG_TO_FILE", "false"), "true")
	showCaller := strings.EqualFold(getenvDefault("LOG_CALLER", "false"), "true")
	format := strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy")))
	if format != "legacy" && format != "json" && format != "console" {
		format = "legacy"
	}
	filePath := strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "ccrl-notifier.log")))

	var cores []zapcore.Core
	if console {
		cores = append(cores, zapcore.NewCore(newEncoder(format), zapcore.AddSync(os.Stdout), level))
	}
	if toFile {
		if err := ensureDir(filepath.Dir(filePath)); err != nil {
			return err
		}
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(newEncoder(format), zapcore.AddSync(f), level))
	}
	if len(cores) == 0 {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	for _, c := range extra {
		if c != nil {
			cores = append(cores, c)
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if format == "legacy" {
		showCaller = true
	}
	if showCaller {
		logger = logger.WithOptions(zap.AddCaller())
	}
	globalLogger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	return nil
}

func newEncoder(format string) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}

// ReportPanic is deferred at the top of main. It logs a panic with its stack,
// flushes the logger and re-panics so the process still exits non-zero.
func ReportPanic(l *zap.Logger) {
	r := recover()
	if r == nil {
		return
	}
	if l == nil {
		l = L()
	}
	l.Error("panic", zap.String("panic", fmt.Sprint(r)), zap.StackSkip("stack", 1))
	_ = l.Sync()
	panic(r)
}
