// Package diag builds the SDK's diagnostic logger.
//
// A telemetry SDK must stay quiet inside its host application, so the
// default logger discards everything. Setting WEFT_DEBUG (or the Debug
// config flag) switches to human-readable console output on stderr.
package diag

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDebug turns on diagnostic logging for the whole process.
const EnvDebug = "WEFT_DEBUG"

// New returns a debug console logger when enabled is true, otherwise a
// logger that discards everything.
func New(enabled bool) *zap.Logger {
	if !enabled {
		return zap.NewNop()
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(zapcore.DebugLevel),
		Development:       true,
		Encoding:          "console",
		EncoderConfig:     encoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log.Named("weftline")
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

var (
	defaultMu     sync.Mutex
	defaultLogger *zap.Logger
)

// Default returns the process-wide diagnostic logger, resolving
// WEFT_DEBUG on first use.
func Default() *zap.Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(EnvEnabled())
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Tests use it to capture
// diagnostics; passing nil restores a discarding logger.
func SetDefault(log *zap.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if log == nil {
		log = zap.NewNop()
	}
	defaultLogger = log
}

// EnvEnabled reports whether WEFT_DEBUG requests diagnostics. Any value
// that is not a recognizable false counts as on.
func EnvEnabled() bool {
	v := os.Getenv(EnvDebug)
	if v == "" {
		return false
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return on
}
