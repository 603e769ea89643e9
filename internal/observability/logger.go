// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var (
	loggerMu      sync.RWMutex
	defaultLogger Logger = noopLogger{}
)

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// TextLogger writes one k=v line per entry, suitable for process output.
type TextLogger struct {
	mu    sync.Mutex
	out   io.Writer
	clock func() time.Time
	debug bool
}

// NewTextLogger constructs a text logger writing to out. Debug entries are
// dropped unless debug is set.
func NewTextLogger(out io.Writer, debug bool) *TextLogger {
	return &TextLogger{out: out, clock: time.Now, debug: debug}
}

func (l *TextLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.write("DEBUG", msg, fields)
}

func (l *TextLogger) Info(msg string, fields ...Field) {
	l.write("INFO", msg, fields)
}

func (l *TextLogger) Error(msg string, fields ...Field) {
	l.write("ERROR", msg, fields)
}

func (l *TextLogger) write(level, msg string, fields []Field) {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, l.clock().UTC().Format(time.RFC3339Nano), level, msg)

	sorted := append([]Field(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for _, f := range sorted {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, strings.Join(parts, " "))
}
