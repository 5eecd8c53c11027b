package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured JSON logger. Every entry carries service, hostname,
// action and the request id found in the context.
type Logger struct {
	service  string
	hostname string
	level    zap.AtomicLevel
	zl       *zap.Logger
}

// NewLogger creates a JSON logger writing to stdout at info level.
func NewLogger(service string) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "level"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), level)
	zl := zap.New(core).With(
		zap.String("service", service),
		zap.String("hostname", hostname),
	)

	return &Logger{
		service:  service,
		hostname: hostname,
		level:    level,
		zl:       zl,
	}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{
		service: "nop",
		level:   zap.NewAtomicLevelAt(zapcore.FatalLevel),
		zl:      zap.NewNop(),
	}
}

// SetLevel changes the minimum level (debug, info, warn, error).
func (logger *Logger) SetLevel(level string) error {
	return logger.level.UnmarshalText([]byte(level))
}

// Sync flushes buffered entries.
func (logger *Logger) Sync() {
	_ = logger.zl.Sync()
}

// Zap exposes the underlying logger for libraries that want one.
func (logger *Logger) Zap() *zap.Logger {
	return logger.zl
}

// Define an unexported type for context keys.
type ctxKey string

// requestIDKey is the context key for the request ID.
const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying a request id (useful for HTTP/mq/ws hops).
func (logger *Logger) WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// RequestIDFrom returns the request id saved in the context, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (logger *Logger) fields(ctx context.Context, action string, details any) []zap.Field {
	fs := []zap.Field{
		zap.String("action", action),
		zap.String("request_id", RequestIDFrom(ctx)),
	}
	if details != nil {
		fs = append(fs, zap.Any("details", details))
	}
	return fs
}

// -- Logger helper functions --

func (logger *Logger) Info(ctx context.Context, action, msg string, details any) {
	logger.zl.Info(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Debug(ctx context.Context, action, msg string, details any) {
	logger.zl.Debug(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Warn(ctx context.Context, action, msg string, details any) {
	logger.zl.Warn(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Error(ctx context.Context, action, msg string, err error) {
	fs := logger.fields(ctx, action, nil)
	if err != nil {
		fs = append(fs, zap.NamedError("error", err), zap.Stack("stack"))
	}
	logger.zl.Error(msg, fs...)
}
