package logging

import (
	"fmt"
	"strings"
	"sync"
)

// NopLogger discards all log output. Useful as a default for optional loggers.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
func (n NopLogger) WithModule(string) Logger   { return n }

// CaptureLogger records log lines in memory for assertions in tests.
// It is safe for concurrent use.
type CaptureLogger struct {
	mu    sync.Mutex
	lines []string
}

// NewCaptureLogger creates a logger that captures output instead of printing it.
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{}
}

func (c *CaptureLogger) record(level Level, msg string, args ...interface{}) {
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, b.String())
}

func (c *CaptureLogger) Debug(msg string, args ...interface{}) { c.record(LevelDebug, msg, args...) }
func (c *CaptureLogger) Info(msg string, args ...interface{})  { c.record(LevelInfo, msg, args...) }
func (c *CaptureLogger) Warn(msg string, args ...interface{})  { c.record(LevelWarn, msg, args...) }
func (c *CaptureLogger) Error(msg string, args ...interface{}) { c.record(LevelError, msg, args...) }
func (c *CaptureLogger) Fatal(msg string, args ...interface{}) { c.record(LevelFatal, msg, args...) }
func (c *CaptureLogger) WithModule(string) Logger              { return c }

// Lines returns a copy of all recorded log lines.
func (c *CaptureLogger) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Contains reports whether any recorded line contains the substring.
func (c *CaptureLogger) Contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
