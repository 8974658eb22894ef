// Package logger provides the structured logger used across the daemon,
// wrapping zap with the daemon's own field-chaining helpers and rotation
// policy.
package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	RequestIDKey     contextKey = "request_id"
)

// Config controls log level, output format, destination, and rotation.
type Config struct {
	Level         string // debug|info|warn|error
	Format        string // "json" or "console"
	ToStdout      bool
	FilePath      string
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
	Component     string
}

// Logger wraps a zap.Logger with daemon-specific convenience methods. All
// methods are safe for concurrent use.
type Logger struct {
	zap    *zap.Logger
	sugar  *zap.SugaredLogger
	fields []zap.Field
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// Default returns the process-wide default logger, constructing a bare
// console logger at info level the first time it is called.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: "console", ToStdout: true})
		if err != nil {
			l = &Logger{zap: zap.NewNop(), sugar: zap.NewNop().Sugar()}
		}
		defaultMu.Lock()
		defaultLogger = l
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a Logger from cfg. When cfg.FilePath is set, output is written
// to a lumberjack-managed rotating file; when cfg.ToStdout is also set,
// output is duplicated to stdout.
func New(cfg Config) (*Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.MessageKey = "msg"
	encoderCfg.LevelKey = "level"

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var syncers []zapcore.WriteSyncer
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 0),
		}
		syncers = append(syncers, zapcore.AddSync(rotator))
	}
	if cfg.ToStdout || cfg.FilePath == "" {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), parseLevel(cfg.Level))
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if cfg.Component != "" {
		zl = zl.With(zap.String("component", cfg.Component))
	}

	return &Logger{zap: zl, sugar: zl.Sugar()}, nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func (l *Logger) clone(extra ...zap.Field) *Logger {
	fields := append(append([]zap.Field{}, l.fields...), extra...)
	zl := l.zap.With(extra...)
	return &Logger{zap: zl, sugar: zl.Sugar(), fields: fields}
}

// WithFields returns a child logger carrying the given zap fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return l.clone(fields...)
}

// WithContext attaches correlation/request IDs found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var fields []zap.Field
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.clone(fields...)
}

// WithError attaches err under the "error" field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.clone(zap.Error(err))
}

// WithTaskID attaches a task_id field.
func (l *Logger) WithTaskID(id string) *Logger {
	return l.clone(zap.String("task_id", id))
}

// WithAgentID attaches an agent_id field.
func (l *Logger) WithAgentID(id string) *Logger {
	return l.clone(zap.String("agent_id", id))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.sugar.Debugf(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.sugar.Infof(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.sugar.Warnf(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.sugar.Errorf(msg, args...) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.sugar.Fatalf(msg, args...) }

// Zap exposes the underlying *zap.Logger for callers that need structured
// field-based calls directly.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// Sugar exposes the underlying *zap.SugaredLogger.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

// ContextWithCorrelationID returns a child context carrying id for later
// retrieval by WithContext.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// ContextWithRequestID returns a child context carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func detectLogFormat() string {
	if _, ok := os.LookupEnv("KUBERNETES_SERVICE_HOST"); ok {
		return "json"
	}
	if env := os.Getenv("KANDEV_ENV"); env == "production" {
		return "json"
	}
	return "console"
}

// DetectDefaultFormat is exported for use by the config loader's defaults.
func DetectDefaultFormat() string { return detectLogFormat() }
