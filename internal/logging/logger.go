package logging

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Logger is a fielded logger backed by zap. Loggers are immutable; the With*
// methods return a child carrying the extra fields.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// NewLogger creates a logger writing to stdout
func NewLogger(level LogLevel, format LogFormat) *Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput creates a logger writing to w
func NewLoggerWithOutput(level LogLevel, format LogFormat, w io.Writer) *Logger {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == FormatText {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), atom)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.FatalLevel))

	return &Logger{z: z, level: atom}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// Zap exposes the underlying zap logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Named returns a child logger with the name appended, zap style.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name), level: l.level}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With(zap.Any(key, value)), level: l.level}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if len(fields) == 0 {
		return l
	}

	// Stable field order keeps log lines diffable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	return &Logger{z: l.z.With(zf...), level: l.level}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With(zap.Error(err)), level: l.level}
}

func (l *Logger) Debug(message string) { l.z.Debug(message) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.z.Sugar().Debugf(format, args...) }

func (l *Logger) Info(message string) { l.z.Info(message) }

func (l *Logger) Infof(format string, args ...interface{}) { l.z.Sugar().Infof(format, args...) }

func (l *Logger) Warn(message string) { l.z.Warn(message) }

func (l *Logger) Warnf(format string, args ...interface{}) { l.z.Sugar().Warnf(format, args...) }

func (l *Logger) Error(message string) { l.z.Error(message) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.z.Sugar().Errorf(format, args...) }

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(message string, err error) {
	l.z.Error(message, zap.Error(err))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) { l.z.Fatal(message) }

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) { l.z.Sugar().Fatalf(format, args...) }

// SetLevel changes the level of this logger and every child derived from it
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.z.Sync()
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(level LogLevel, format LogFormat) {
	SetGlobalLogger(NewLogger(level, format))
}

// SetGlobalLogger replaces the global logger
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo, FormatJSON)
	}
	return globalLogger
}

type loggerKey struct{}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves a logger from the context
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
			return logger
		}
	}
	return GetGlobalLogger()
}

// Component returns the global logger tagged with a component name
func Component(name string) *Logger {
	return GetGlobalLogger().WithField("component", name)
}

func Debug(message string) { GetGlobalLogger().Debug(message) }

func Debugf(format string, args ...interface{}) { GetGlobalLogger().Debugf(format, args...) }

func Info(message string) { GetGlobalLogger().Info(message) }

func Infof(format string, args ...interface{}) { GetGlobalLogger().Infof(format, args...) }

func Warn(message string) { GetGlobalLogger().Warn(message) }

func Warnf(format string, args ...interface{}) { GetGlobalLogger().Warnf(format, args...) }

func Error(message string) { GetGlobalLogger().Error(message) }

func Errorf(format string, args ...interface{}) { GetGlobalLogger().Errorf(format, args...) }

// ErrorWithErr logs an error message with an error object using the global logger
func ErrorWithErr(message string, err error) {
	GetGlobalLogger().ErrorWithErr(message, err)
}

func Fatal(message string) { GetGlobalLogger().Fatal(message) }

func Fatalf(format string, args ...interface{}) { GetGlobalLogger().Fatalf(format, args...) }

// WithField adds a field to the global logger
func WithField(key string, value interface{}) *Logger {
	return GetGlobalLogger().WithField(key, value)
}

// WithFields adds multiple fields to the global logger
func WithFields(fields map[string]interface{}) *Logger {
	return GetGlobalLogger().WithFields(fields)
}

// WithError adds an error to the global logger
func WithError(err error) *Logger {
	return GetGlobalLogger().WithError(err)
}

// ParseLogLevel parses a string into a LogLevel, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		GetGlobalLogger().Warnf("unknown log level %q, defaulting to info", level)
		return LevelInfo
	}
}

// ParseLogFormat parses a string into a LogFormat, defaulting to json
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "":
		return FormatJSON
	case "text", "console":
		return FormatText
	default:
		GetGlobalLogger().Warnf("unknown log format %q, defaulting to json", format)
		return FormatJSON
	}
}
