// Package logging wraps a process-wide zap logger and carries request and
// caller labels through contexts.
package logging

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	callerKey
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Config selects level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	OutputPath string // stdout, stderr or a file; empty keeps zap's default
}

// Init builds the global logger. An unparsable level falls back to info.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
		zc.ErrorOutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Replace(logger)
	return nil
}

// Replace installs logger as the global logger and returns a func that
// restores the previous one.
func Replace(logger *zap.Logger) func() {
	mu.Lock()
	prev := global
	global = logger
	mu.Unlock()
	return func() { Replace(prev) }
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}

// L returns the global logger, building a production one on first use.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return global
}

// WithContext returns the logger stored in ctx, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return L()
}

func withField(ctx context.Context, key ctxKey, name, value string) context.Context {
	logger := WithContext(ctx).With(zap.String(name, value))
	ctx = context.WithValue(ctx, key, value)
	return context.WithValue(ctx, loggerKey, logger)
}

// GetRequestID returns the request id set by Middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCaller labels every log line emitted under ctx with the caller that
// initiated the operation, e.g. "cli:collections add".
func WithCaller(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return withField(ctx, callerKey, "caller", label)
}

// GetCaller returns the caller label from context.
func GetCaller(ctx context.Context) string {
	label, _ := ctx.Value(callerKey).(string)
	return label
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Middleware tags each request with an X-Request-ID (incoming or generated)
// and logs its completion. Listing requests also log the profile they
// target; the token query parameter is never logged.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := withField(r.Context(), requestIDKey, "request_id", id)
		w.Header().Set("X-Request-ID", id)

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r.WithContext(ctx))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.status),
			zap.Int64("size", sr.bytes),
			zap.Duration("duration", time.Since(start)),
		}
		q := r.URL.Query()
		if c := q.Get("config"); c != "" {
			fields = append(fields, zap.String("collection", c), zap.String("alias", q.Get("alias")))
		}

		logger := WithContext(ctx)
		if r.URL.Path == "/health" {
			logger.Debug("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	})
}
