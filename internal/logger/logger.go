// Package logger wraps go.uber.org/zap into the global, package-level
// SugaredLogger used throughout StepFlow Monitor.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global, package-level logger. It starts as a safe no-op so
// code that runs before Initialize (flag parsing, config loading) never
// panics on a nil logger.
var Logger = zap.NewNop().Sugar()

// Initialize configures the global logger. jsonOutput selects structured
// JSON (for log aggregators) over the calm console encoder (for a terminal).
// level is one of debug/info/warn/error (case-insensitive); unknown values
// default to info.
func Initialize(jsonOutput bool, level string) error {
	zapLevel := parseLevel(level)

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		zapLogger, err = cfg.Build()
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stdout),
				zapLevel,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Cleanup flushes any buffered log entries. Call before process exit.
func Cleanup() {
	_ = Logger.Sync()
}

// With returns a child logger carrying the given symbol field (internal/sym
// constants), so every line from a subsystem is tagged consistently.
func With(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
