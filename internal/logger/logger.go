// Package logger configures the process-wide zap logger and hands out named
// loggers per component.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

// Component names used with For.
const (
	ComponentReconciler    = "Reconciler"
	ComponentStyleManager  = "StyleManager"
	ComponentSourceManager = "SourceManager"
	ComponentEngine        = "Engine"
	ComponentJournal       = "Journal"
	ComponentStyleFile     = "StyleFile"
	ComponentServer        = "Server"
)

var once sync.Once

func level(s string) zapcore.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// New builds a logger writing to stderr.
func New(logLevel string, format Format) *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.ConsoleSeparator = " | "
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), zap.NewAtomicLevelAt(level(logLevel)))
	return zap.New(core, zap.AddCaller())
}

// Initialize installs the global logger from LOGGING_LEVEL and LOGGING_FORMAT.
// Only the first call has an effect.
func Initialize() {
	once.Do(func() {
		format := Format(strings.ToUpper(env("LOGGING_FORMAT", string(FormatConsole))))
		if format != FormatJSON {
			format = FormatConsole
		}
		zap.ReplaceGlobals(New(env("LOGGING_LEVEL", "INFO"), format))
	})
}

// For returns a logger named after component.
func For(component string) *zap.SugaredLogger {
	Initialize()
	return zap.S().Named(component)
}

// Sync flushes buffered entries.
func Sync() error {
	return zap.L().Sync()
}
