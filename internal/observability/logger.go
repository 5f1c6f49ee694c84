package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents log severity
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps debug, warn and error to their levels; anything else is info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Log line formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu       sync.RWMutex
	out      *log.Logger
	minLevel LogLevel
	json     bool
}

// Logger is a structured logger with trace context support. WithField and
// friends return derived loggers; the parent is never modified.
type Logger struct {
	sink        *sink
	fields      map[string]interface{}
	serviceName string
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// NewLogger creates a new text logger writing to stdout
func NewLogger(serviceName string, minLevel LogLevel) *Logger {
	return &Logger{
		sink:        &sink{out: log.New(os.Stdout, "", 0), minLevel: minLevel},
		fields:      map[string]interface{}{},
		serviceName: serviceName,
	}
}

// GetLogger returns the process logger, configured from SERVICE_NAME,
// LOG_LEVEL and LOG_FORMAT until main applies the loaded configuration
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		serviceName := os.Getenv("SERVICE_NAME")
		if serviceName == "" {
			serviceName = "gallery-server"
		}
		defaultLogger = NewLogger(serviceName, ParseLevel(os.Getenv("LOG_LEVEL")))
		defaultLogger.SetFormat(os.Getenv("LOG_FORMAT"))
	})
	return defaultLogger
}

// SetLevel changes the minimum level that is written
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// SetFormat selects FormatJSON or FormatText; unknown values mean text
func (l *Logger) SetFormat(format string) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.json = strings.EqualFold(strings.TrimSpace(format), FormatJSON)
}

// SetOutput redirects the logger and all loggers derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = log.New(w, "", 0)
}

// WithField returns a new logger with the field added
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(map[string]interface{}{key: value})
}

// WithFields returns a new logger with the fields added
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(fields)
}

// WithContext adds the trace and span ids of the active span and the chi
// request id, when present
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := map[string]interface{}{}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	if reqID := chimw.GetReqID(ctx); reqID != "" {
		fields["request_id"] = reqID
	}
	if len(fields) == 0 {
		return l
	}
	return l.with(fields)
}

func (l *Logger) with(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged, serviceName: l.serviceName}
}

// Debug logs at debug level
func (l *Logger) Debug(msg string) {
	l.log(LevelDebug, msg)
}

// Debugf logs at debug level with formatting
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs at info level
func (l *Logger) Info(msg string) {
	l.log(LevelInfo, msg)
}

// Infof logs at info level with formatting
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs at warn level
func (l *Logger) Warn(msg string) {
	l.log(LevelWarn, msg)
}

// Warnf logs at warn level with formatting
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs at error level
func (l *Logger) Error(msg string) {
	l.log(LevelError, msg)
}

// Errorf logs at error level with formatting
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) log(level LogLevel, msg string) {
	l.sink.mu.RLock()
	out, minLevel, asJSON := l.sink.out, l.sink.minLevel, l.sink.json
	l.sink.mu.RUnlock()
	if level < minLevel {
		return
	}

	now := time.Now()
	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	caller := fmt.Sprintf("%s:%d", file, line)

	if asJSON {
		out.Println(l.jsonLine(now, level, caller, msg))
		return
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s %s %s", now.Format("2006/01/02 15:04:05"), level, l.serviceName, caller, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}
	out.Println(b.String())
}

// jsonLine renders one JSON object per line; fields never overwrite the
// fixed keys
func (l *Logger) jsonLine(now time.Time, level LogLevel, caller, msg string) string {
	entry := make(map[string]interface{}, len(l.fields)+5)
	for k, v := range l.fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["time"] = now.UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["service"] = l.serviceName
	entry["caller"] = caller
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"msg":%q,"log_error":%q}`, level, msg, err.Error())
	}
	return string(data)
}

// Package-level logging on the process logger

// Info logs at info level
func Info(msg string) {
	GetLogger().Info(msg)
}

// Infof logs at info level with formatting
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warn logs at warn level
func Warn(msg string) {
	GetLogger().Warn(msg)
}

// Warnf logs at warn level with formatting
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Errorf logs at error level with formatting
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// WithField returns a logger with the field
func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

// WithFields returns a logger with the fields
func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

// WithContext returns a logger with trace context
func WithContext(ctx context.Context) *Logger {
	return GetLogger().WithContext(ctx)
}

// Span attributes shared by the gallery services

func RequestID(id string) attribute.KeyValue {
	return attribute.String("request_id", id)
}

func PhotoID(id string) attribute.KeyValue {
	return attribute.String("photo_id", id)
}

func CategoryID(id string) attribute.KeyValue {
	return attribute.String("category_id", id)
}

func Position(p int) attribute.KeyValue {
	return attribute.Int("display_order", p)
}

func Attempts(n int) attribute.KeyValue {
	return attribute.Int("ordering.attempts", n)
}
