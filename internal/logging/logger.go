package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// InvocationLog is one call through an invocation adapter.
type InvocationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Handle     string    `json:"handle,omitempty"`
	Function   string    `json:"function"`
	Kind       string    `json:"kind"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Inputs     int       `json:"inputs,omitempty"`
	Outputs    int       `json:"outputs,omitempty"`
}

// Sink receives invocation records in addition to the console and file
// outputs. Implementations must be safe for concurrent use.
type Sink interface {
	Save(ctx context.Context, entry *InvocationLog) error
}

// Logger writes invocation records.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console io.Writer
	sinks   []Sink
}

var defaultLogger = &Logger{enabled: true, console: os.Stdout}

// Default returns the default invocation logger.
func Default() *Logger {
	return defaultLogger
}

// NewLogger returns a logger writing human-readable lines to console, which
// may be nil.
func NewLogger(console io.Writer) *Logger {
	return &Logger{enabled: true, console: console}
}

// SetOutput appends JSON records to the file at path.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole replaces the console writer. nil disables console output.
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// AddSink registers an additional destination.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Log writes an invocation record. Sink failures are reported on the
// operational logger and never fail the call.
func (l *Logger) Log(ctx context.Context, entry *InvocationLog) {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console != nil {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		extra := ""
		if entry.Outputs > 0 {
			extra = fmt.Sprintf(" [out:%d]", entry.Outputs)
		}
		fmt.Fprintf(l.console, "[%s] %s %s %s %dms%s\n",
			entry.Kind, status, entry.RequestID, entry.Function, entry.DurationMs, extra)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[%s]   %s error: %s\n", entry.Kind, entry.ErrorKind, entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Save(ctx, entry); err != nil {
			Op().Warn("invocation log sink failed", "request_id", entry.RequestID, "error", err)
		}
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
