// Package logging provides unified logging infrastructure for treeseg
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Logger wraps the standard logger with optional file output
type Logger struct {
	*log.Logger
	file *os.File
	mu   sync.Mutex
}

var (
	defaultLogger *Logger
	once          sync.Once
	debugEnabled  atomic.Bool
)

// Initialize sets up the logging system with file output in logDir.
// Output still goes to stderr so CLI users see warnings.
func Initialize(logDir string) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}

		logPath := filepath.Join(logDir, "treeseg.log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // Path from configuration
		if err != nil {
			initErr = fmt.Errorf("failed to open log file: %w", err)
			return
		}

		multiWriter := io.MultiWriter(os.Stderr, file)

		defaultLogger = &Logger{
			Logger: log.New(multiWriter, "", log.LstdFlags|log.Lshortfile),
			file:   file,
		}

		log.SetOutput(multiWriter)
		log.SetFlags(log.LstdFlags | log.Lshortfile)

		log.Printf("Logging initialized: %s", logPath)
	})
	return initErr
}

// SetOutput redirects log output, used by the CLI to keep stdout clean for JSONL
func SetOutput(w io.Writer) {
	log.SetOutput(w)
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.SetOutput(w)
		defaultLogger.mu.Unlock()
	}
}

// SetDebug toggles debug messages regardless of the DEBUG variable
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Close closes the log file
func Close() error {
	if defaultLogger != nil && defaultLogger.file != nil {
		return defaultLogger.file.Close()
	}
	return nil
}

func output(msg string) {
	if defaultLogger != nil {
		_ = defaultLogger.Output(3, msg)
	} else {
		_ = log.Output(3, msg)
	}
}

// Printf logs a formatted message
func Printf(format string, v ...interface{}) {
	output(fmt.Sprintf(format, v...))
}

// Errorf logs an error message
func Errorf(format string, v ...interface{}) {
	output(fmt.Sprintf("[ERROR] "+format, v...))
}

// Warnf logs a warning message
func Warnf(format string, v ...interface{}) {
	output(fmt.Sprintf("[WARN] "+format, v...))
}

// Infof logs an info message
func Infof(format string, v ...interface{}) {
	output(fmt.Sprintf("[INFO] "+format, v...))
}

// Debugf logs a debug message when debug logging is on
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() || os.Getenv("DEBUG") == "true" {
		output(fmt.Sprintf("[DEBUG] "+format, v...))
	}
}
