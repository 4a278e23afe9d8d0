// Package logging provides the levelled logger shared by every vocafs package.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs request-level protocol tracing and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// String returns the level name as accepted by ParseLevel.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name (case-insensitive) to a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, true
		}
	}
	return LevelInfo, false
}

// sink is the state shared between a logger and every child created
// with WithPrefix, so SetLevel and SetOutput on any of them apply to all.
type sink struct {
	mu     sync.RWMutex
	level  LogLevel
	logger *log.Logger
}

// Logger provides levelled, prefixed logging.
type Logger struct {
	prefix string
	sink   *sink
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("VOCAFS")

		if level, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
			defaultLogger.SetLevel(level)
		}

		// FUSE_DEBUG asks for protocol tracing without a CLI flag
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelTrace)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger writing to stdout with the given prefix
func NewLogger(prefix string) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC
	if os.Getenv("LOG_LONGFILE") != "" {
		flags |= log.Llongfile
	} else {
		flags |= log.Lshortfile
	}

	return &Logger{
		sink: &sink{
			level:  LevelInfo,
			logger: log.New(os.Stdout, prefix+": ", flags),
		},
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

// SetOutput redirects every logger sharing this sink to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.logger.SetOutput(w)
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level <= l.Level()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + ": " + msg
	}

	l.sink.mu.RLock()
	out := l.sink.logger
	l.sink.mu.RUnlock()
	if err := out.Output(3, fmt.Sprintf("[%s] %s", levelNames[level], msg)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log message: %v\n", err)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a child logger that tags its messages with prefix.
// The child shares level and output with its parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + "/" + prefix
	}
	return &Logger{prefix: prefix, sink: l.sink}
}

// TraceFunc adapts the logger to callbacks of the form func(msg interface{}),
// such as the kernel protocol debug hook.
func (l *Logger) TraceFunc() func(msg interface{}) {
	return func(msg interface{}) {
		l.log(LevelTrace, "%v", msg)
	}
}
