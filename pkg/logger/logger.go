package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = newLogger(os.Getenv("COMPASS_DEBUG") != "")
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetDebug rebuilds the logger with debug level enabled or disabled.
func SetDebug(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(debug)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func toFields(component string, fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("component", component))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

// InfoCF logs at info level with a component tag and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, toFields(component, fields)...)
}

// WarnCF logs at warn level with a component tag and structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, toFields(component, fields)...)
}

// ErrorCF logs at error level with a component tag and structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, toFields(component, fields)...)
}

// DebugCF logs at debug level with a component tag and structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, toFields(component, fields)...)
}

// Info logs a bare info message.
func Info(msg string) {
	current().Info(msg)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	current().Sync()
}
