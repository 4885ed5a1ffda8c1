package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
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

// Logger provides leveled, component-tagged logging
type Logger struct {
	level     Level
	component string
	output    io.Writer
	context   map[string]interface{}
	mu        *sync.Mutex
}

// NewLogger creates a logger for a component
func NewLogger(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		level:     level,
		component: component,
		output:    output,
		mu:        &sync.Mutex{},
	}
}

// Component returns a copy of the logger tagged with a different component
func (l *Logger) Component(component string) *Logger {
	return &Logger{
		level:     l.level,
		component: component,
		output:    l.output,
		context:   l.context,
		mu:        l.mu,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WithContext returns a new Logger with an added context field
func (l *Logger) WithContext(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new Logger with multiple context fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newContext := make(map[string]interface{}, len(l.context)+len(fields))
	for k, v := range l.context {
		newContext[k] = v
	}
	for k, v := range fields {
		newContext[k] = v
	}

	return &Logger{
		level:     l.level,
		component: l.component,
		output:    l.output,
		context:   newContext,
		mu:        l.mu,
	}
}

// log formats and writes a log entry.
// Output format: [YYYY-MM-DD HH:MM:SS] LEVEL [component] message key=value
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteString("] ")
	sb.WriteString(level.String())
	sb.WriteString(" [")
	sb.WriteString(l.component)
	sb.WriteString("] ")
	sb.WriteString(sanitizeMessage(fmt.Sprintf(format, args...)))

	for key, value := range l.context {
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprintf("%v", value))
	}
	sb.WriteString("\n")

	l.mu.Lock()
	l.output.Write([]byte(sb.String()))
	l.mu.Unlock()
}

// sanitizeMessage removes control characters except \n and \t to prevent log injection
func sanitizeMessage(msg string) string {
	var sb strings.Builder
	for _, r := range msg {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
		} else if r < 0x20 {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}
