// Package logging provides structured logging for SchoolHub.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a config string to a Level. Unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a structured logger backed by zap.
type Logger struct {
	level       zap.AtomicLevel
	output      io.Writer
	development bool
	fields      map[string]interface{}
	sugar       *zap.SugaredLogger
}

// Options configure a Logger.
type Options struct {
	Level       Level
	Output      io.Writer
	Development bool
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(Options{Level: INFO, Output: os.Stdout})
)

// New builds a logger. Development mode uses the colored console encoder,
// production mode writes JSON lines.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	l := &Logger{
		level:       zap.NewAtomicLevelAt(opts.Level.zapLevel()),
		output:      opts.Output,
		development: opts.Development,
		fields:      make(map[string]interface{}),
	}
	l.sugar = l.build()
	return l
}

func (l *Logger) build() *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var enc zapcore.Encoder
	if l.development {
		encCfg.EncodeLevel = func(lvl zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString("[" + lvl.CapitalString() + "]")
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(l.output)), l.level)

	args := make([]interface{}, 0, len(l.fields)*2)
	for k, v := range l.fields {
		args = append(args, k, v)
	}
	return zap.New(core).Sugar().With(args...)
}

// Default returns the package-level logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Configure replaces the package-level logger.
func Configure(opts Options) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = New(opts)
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	Default().level.SetLevel(level.zapLevel())
}

// SetOutput replaces the package-level logger with one writing to w. The
// level and fields carry over; loggers derived earlier keep their writer.
func SetOutput(w io.Writer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	old := defaultLogger
	l := &Logger{
		level:       zap.NewAtomicLevelAt(old.level.Level()),
		output:      w,
		development: old.development,
		fields:      make(map[string]interface{}, len(old.fields)),
	}
	for k, v := range old.fields {
		l.fields[k] = v
	}
	l.sugar = l.build()
	defaultLogger = l
}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return Default().WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return Default().WithFields(fields)
}

// Level reports the current minimum level.
func (l *Logger) Level() Level {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := &Logger{
		level:       l.level,
		output:      l.output,
		development: l.development,
		fields:      make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	newLogger.sugar = newLogger.build()
	return newLogger
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	switch level {
	case DEBUG:
		l.sugar.Debugf(msg, args...)
	case INFO:
		l.sugar.Infof(msg, args...)
	case WARN:
		l.sugar.Warnf(msg, args...)
	default:
		l.sugar.Errorf(msg, args...)
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	Default().log(DEBUG, msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	Default().log(INFO, msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	Default().log(WARN, msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	Default().log(ERROR, msg, args...)
}

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }

// OrDefault returns l, or the package logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}
