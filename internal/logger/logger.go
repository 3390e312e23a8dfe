package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	apperrors "github.com/socialnet/backend/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields carries structured key/value pairs for a log entry.
type Fields map[string]interface{}

// Entry is one JSON log line.
type Entry struct {
	Timestamp string        `json:"timestamp"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
	RequestID string        `json:"request_id,omitempty"`
	Component string        `json:"component,omitempty"`
	Error     *ErrorDetails `json:"error,omitempty"`
	Fields    Fields        `json:"fields,omitempty"`
	Caller    string        `json:"caller,omitempty"`
}

// ErrorDetails contains structured error information
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Config configures a Logger. A nil Output means stdout.
type Config struct {
	Output    io.Writer
	Level     Level
	Component string
}

// Logger writes JSON lines. Loggers derived with WithComponent or With share
// the parent's output and lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	level     Level
	component string
	base      Fields
}

var defaultLogger = New(&Config{Output: os.Stdout, Level: LevelInfo})

func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		mu:        &sync.Mutex{},
		output:    out,
		level:     cfg.Level,
		component: cfg.Component,
	}
}

func SetDefault(l *Logger) {
	defaultLogger = l
}

func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	child := l.clone()
	child.component = component
	return child
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	child := l.clone()
	child.base = make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		child.base[k] = v
	}
	for k, v := range fields {
		child.base[k] = v
	}
	return child
}

func (l *Logger) clone() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		level:     l.level,
		component: l.component,
		base:      l.base,
	}
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields Fields, err error) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		RequestID: apperrors.GetRequestID(ctx),
		Component: l.component,
		Fields:    redact(mergeFields(l.base, fields)),
	}

	if level >= LevelError {
		// skip log and the exported wrapper
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	if err != nil {
		entry.Error = &ErrorDetails{Message: err.Error()}

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			entry.Error.Code = appErr.Code
			entry.Error.Category = string(appErr.Category)
		}
		if level >= LevelError {
			entry.Error.StackTrace = getStackTrace()
		}
	}

	data, mErr := json.Marshal(entry)
	if mErr != nil {
		// unmarshalable field value; keep the message
		entry.Fields = Fields{"marshal_error": mErr.Error()}
		data, _ = json.Marshal(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

func mergeFields(base, fields Fields) Fields {
	if len(base) == 0 {
		return fields
	}
	if len(fields) == 0 {
		return base
	}
	merged := make(Fields, len(base)+len(fields))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

var sensitiveKeys = []string{"password", "secret", "token", "authorization"}

// redact masks values whose key looks like a credential. The input map is not modified.
func redact(fields Fields) Fields {
	var out Fields
	for k := range fields {
		lower := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				if out == nil {
					out = make(Fields, len(fields))
					for kk, vv := range fields {
						out[kk] = vv
					}
				}
				out[k] = "[REDACTED]"
				break
			}
		}
	}
	if out == nil {
		return fields
	}
	return out
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Fields) {
	l.log(ctx, LevelDebug, msg, first(fields), nil)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Fields) {
	l.log(ctx, LevelInfo, msg, first(fields), nil)
}

// Warn logs a warning. err may be nil.
func (l *Logger) Warn(ctx context.Context, msg string, err error, fields ...Fields) {
	l.log(ctx, LevelWarn, msg, first(fields), err)
}

func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	l.log(ctx, LevelError, msg, first(fields), err)
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...Fields) {
	defaultLogger.log(ctx, LevelDebug, msg, first(fields), nil)
}

func Info(ctx context.Context, msg string, fields ...Fields) {
	defaultLogger.log(ctx, LevelInfo, msg, first(fields), nil)
}

func Warn(ctx context.Context, msg string, err error, fields ...Fields) {
	defaultLogger.log(ctx, LevelWarn, msg, first(fields), err)
}

func Error(ctx context.Context, msg string, err error, fields ...Fields) {
	defaultLogger.log(ctx, LevelError, msg, first(fields), err)
}

func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
