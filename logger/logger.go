// Package logger provides leveled, structured logging for printvista
// components. Messages carry variadic key/value context and are written to
// the console and, when a log directory is configured, to a size-rotated
// log file.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
	TRACE: "TRACE",
}

// ParseLevel maps a config string to a LogLevel. Unknown values fall back
// to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return ERROR
	case "warn", "warning":
		return WARN
	case "debug":
		return DEBUG
	case "trace":
		return TRACE
	default:
		return INFO
	}
}

// Entry is a single log record.
type Entry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// RotationPolicy defines when log files are rotated and how many are kept.
type RotationPolicy struct {
	Enabled   bool
	MaxSizeMB int
	MaxFiles  int
}

// Logger writes leveled log entries to the console and an optional log file.
type Logger struct {
	mu             sync.Mutex
	level          LogLevel
	logDir         string
	currentFile    *os.File
	currentPath    string
	consoleOutput  bool
	rotationPolicy RotationPolicy
}

// New creates a Logger. logDir may be empty to disable file output.
func New(level LogLevel, logDir string) *Logger {
	return &Logger{
		level:         level,
		logDir:        logDir,
		consoleOutput: true,
		rotationPolicy: RotationPolicy{
			Enabled:   true,
			MaxSizeMB: 50,
			MaxFiles:  10,
		},
	}
}

// SetConsoleOutput enables or disables console output.
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleOutput = enabled
}

// SetLevel changes the current log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetRotationPolicy configures log rotation.
func (l *Logger) SetRotationPolicy(policy RotationPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotationPolicy = policy
}

// Error logs an error level message.
func (l *Logger) Error(msg string, context ...interface{}) {
	l.log(ERROR, msg, context...)
}

// Warn logs a warning level message.
func (l *Logger) Warn(msg string, context ...interface{}) {
	l.log(WARN, msg, context...)
}

// Info logs an info level message.
func (l *Logger) Info(msg string, context ...interface{}) {
	l.log(INFO, msg, context...)
}

// Debug logs a debug level message.
func (l *Logger) Debug(msg string, context ...interface{}) {
	l.log(DEBUG, msg, context...)
}

// Trace logs a trace level message.
func (l *Logger) Trace(msg string, context ...interface{}) {
	l.log(TRACE, msg, context...)
}

func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   make(map[string]interface{}),
	}
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			entry.Context[key] = context[i+1]
		}
	}

	line := formatEntry(entry)
	if l.consoleOutput {
		fmt.Fprintln(os.Stderr, line)
	}
	l.writeToFile(line)
}

func formatEntry(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	b.WriteString(fmt.Sprintf(" [%-5s] ", levelNames[e.Level]))
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, e.Context[k]))
		}
	}
	return b.String()
}

func (l *Logger) writeToFile(line string) {
	if l.logDir == "" {
		return
	}
	if l.currentFile == nil {
		if err := l.openLogFile(); err != nil {
			return
		}
	}
	if l.shouldRotate() {
		l.rotate()
	}
	fmt.Fprintln(l.currentFile, line)
}

func (l *Logger) openLogFile() error {
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(l.logDir, "server.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.currentFile = f
	l.currentPath = path
	return nil
}

func (l *Logger) shouldRotate() bool {
	if !l.rotationPolicy.Enabled || l.currentFile == nil {
		return false
	}
	info, err := l.currentFile.Stat()
	if err != nil {
		return false
	}
	return info.Size() >= int64(l.rotationPolicy.MaxSizeMB)*1024*1024
}

func (l *Logger) rotate() {
	l.currentFile.Close()
	rotated := fmt.Sprintf("%s.%s", l.currentPath, time.Now().Format("20060102-150405"))
	os.Rename(l.currentPath, rotated)
	l.currentFile = nil
	l.openLogFile()
	l.cleanOldFiles()
}

func (l *Logger) cleanOldFiles() {
	matches, err := filepath.Glob(l.currentPath + ".*")
	if err != nil || len(matches) <= l.rotationPolicy.MaxFiles {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-l.rotationPolicy.MaxFiles] {
		os.Remove(old)
	}
}

// Close flushes and closes the log file, if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	err := l.currentFile.Close()
	l.currentFile = nil
	return err
}
