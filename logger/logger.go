// logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// levelMeta holds the console (colored) and file (plain) prefixes for a level.
var levelMeta = map[LogLevel]struct {
	name  string
	color string
}{
	DEBUG: {"DEBUG", colorGray},
	INFO:  {"INFO", colorReset},
	WARN:  {"WARN", colorYellow},
	ERROR: {"ERROR", colorRed},
}

// sink pairs one *log.Logger per level with the writer it targets.
type sink struct {
	out     io.Writer
	loggers map[LogLevel]*log.Logger
}

func newSink(out io.Writer, colored bool) *sink {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	s := &sink{out: out, loggers: make(map[LogLevel]*log.Logger, len(levelMeta))}
	for lvl, meta := range levelMeta {
		prefix := fmt.Sprintf("%-8s", "["+meta.name+"]")
		if colored {
			prefix = meta.color + "[" + meta.name + "]" + colorReset + strings.Repeat(" ", 8-len(meta.name)-2)
		}
		s.loggers[lvl] = log.New(out, prefix, flags)
	}
	return s
}

type Logger struct {
	console  *sink
	file     *sink
	handle   *os.File
	minLevel LogLevel
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// current returns the package logger, creating a console-only DEBUG logger
// if Init was never called.
func current() *Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = &Logger{console: newSink(os.Stdout, true), minLevel: DEBUG}
	}
	return defaultLogger
}

// Init configures the package logger.
// If filename is empty, logs only to console.
// If console is false, logs only to file.
func Init(filename string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.handle != nil {
		defaultLogger.handle.Close()
	}

	l := &Logger{minLevel: DEBUG}
	if defaultLogger != nil {
		l.minLevel = defaultLogger.minLevel
	}

	if filename != "" {
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.handle = file
		l.file = newSink(file, false)
	}
	if console {
		l.console = newSink(os.Stdout, true)
	}
	if l.console == nil && l.file == nil {
		return fmt.Errorf("no output destination specified")
	}

	defaultLogger = l
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel. Unknown values fall back to INFO.
func ParseLevel(s string) LogLevel {
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

// SetLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR)
func SetLevel(level LogLevel) {
	l := current()
	mu.Lock()
	defer mu.Unlock()
	l.minLevel = level
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.handle != nil {
		defaultLogger.handle.Close()
		defaultLogger.handle = nil
		defaultLogger.file = nil
	}
}

func output(level LogLevel, msg string) {
	l := current()
	mu.RLock()
	minLevel, console, file := l.minLevel, l.console, l.file
	mu.RUnlock()

	if level < minLevel {
		return
	}
	// depth 3: output <- Infof <- caller
	if console != nil {
		console.loggers[level].Output(3, msg)
	}
	if file != nil {
		file.loggers[level].Output(3, msg)
	}
}

// Debug logs a debug message
func Debug(v ...interface{}) { output(DEBUG, fmt.Sprint(v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) { output(DEBUG, fmt.Sprintf(format, v...)) }

// Info logs an info message
func Info(v ...interface{}) { output(INFO, fmt.Sprint(v...)) }

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) { output(INFO, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...interface{}) { output(WARN, fmt.Sprint(v...)) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) { output(WARN, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...interface{}) { output(ERROR, fmt.Sprint(v...)) }

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) { output(ERROR, fmt.Sprintf(format, v...)) }

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	output(ERROR, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	output(ERROR, fmt.Sprintf(format, v...))
	os.Exit(1)
}
