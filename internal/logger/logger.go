// Package logger provides structured logging functionality for the download facade.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Version information - should be set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

func (l Level) String() string {
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

// LogConfig holds configuration for file logging.
type LogConfig struct {
	LogDir           string // Directory for log files
	RetentionDays    int    // Days to keep log files
	MaxSizeMB        int    // Max size per log file in MB
	EnableFileLog    bool   // Whether to enable file logging
	EnableConsoleLog bool   // Whether to enable console logging
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		LogDir:           "logs",
		RetentionDays:    7,
		MaxSizeMB:        100,
		EnableFileLog:    false,
		EnableConsoleLog: true,
	}
}

// Logger provides leveled logging with console and optional file output.
type Logger struct {
	mu            sync.Mutex
	level         atomic.Int32
	consoleOutput io.Writer
	fileOutput    *os.File
	config        *LogConfig
	currentDate   string
	prefix        string
}

// defaultLogger is the package-level logger instance.
var defaultLogger = NewLogger(os.Stdout, LevelInfo, "")

// NewLogger creates a new logger instance.
func NewLogger(output io.Writer, level Level, prefix string) *Logger {
	l := &Logger{
		consoleOutput: output,
		prefix:        prefix,
		config:        DefaultLogConfig(),
	}
	l.level.Store(int32(level))
	return l
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// SetOutput sets the console output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleOutput = w
}

// Configure sets up file logging with the given configuration.
func (l *Logger) Configure(config *LogConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.config = config

	if config.EnableFileLog && config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		if err := l.rotateLogFile(); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		l.cleanupOldLogs()
	}

	return nil
}

// rotateLogFile opens a new log file for the current date.
func (l *Logger) rotateLogFile() error {
	today := time.Now().Format("2006-01-02")

	if l.fileOutput != nil && l.currentDate != today {
		l.fileOutput.Close()
		l.fileOutput = nil
	}

	if l.fileOutput == nil {
		logPath := filepath.Join(l.config.LogDir, fmt.Sprintf("msixvcdl_%s.log", today))
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.fileOutput = file
		l.currentDate = today
	}

	return nil
}

// checkAndRotateBySize checks if current log file exceeds max size and rotates if needed.
func (l *Logger) checkAndRotateBySize() {
	if l.fileOutput == nil || l.config.MaxSizeMB <= 0 {
		return
	}

	info, err := l.fileOutput.Stat()
	if err != nil {
		return
	}

	maxBytes := int64(l.config.MaxSizeMB) * 1024 * 1024
	if info.Size() >= maxBytes {
		l.fileOutput.Close()

		oldPath := filepath.Join(l.config.LogDir, fmt.Sprintf("msixvcdl_%s.log", l.currentDate))
		newPath := filepath.Join(l.config.LogDir, fmt.Sprintf("msixvcdl_%s_%s.log", l.currentDate, time.Now().Format("150405")))
		os.Rename(oldPath, newPath)

		l.fileOutput = nil
		l.rotateLogFile()
	}
}

// cleanupOldLogs removes log files older than retention period.
func (l *Logger) cleanupOldLogs() {
	if l.config.RetentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -l.config.RetentionDays)

	files, err := os.ReadDir(l.config.LogDir)
	if err != nil {
		return
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "msixvcdl_") || !strings.HasSuffix(file.Name(), ".log") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(l.config.LogDir, file.Name()))
		}
	}
}

// log writes a log message at the specified level.
func (l *Logger) log(level Level, format string, args ...any) {
	if level < Level(l.level.Load()) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	msg := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] %s%s\n", timestamp, level.String(), prefix, msg)

	if l.config.EnableConsoleLog && l.consoleOutput != nil {
		fmt.Fprint(l.consoleOutput, logLine)
	}

	if l.config.EnableFileLog && l.fileOutput != nil {
		today := time.Now().Format("2006-01-02")
		if l.currentDate != today {
			l.rotateLogFile()
		}

		l.checkAndRotateBySize()

		if l.fileOutput != nil {
			l.fileOutput.WriteString(logLine)
		}
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileOutput != nil {
		l.fileOutput.Close()
		l.fileOutput = nil
	}
}

// Package-level functions using the default logger.

// Init initializes the default logger with console output.
func Init() {
	defaultLogger.SetOutput(os.Stdout)
}

// SetDefaultLevel sets the default logger's level.
func SetDefaultLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// Configure configures the default logger with file logging.
func Configure(config *LogConfig) error {
	return defaultLogger.Configure(config)
}

// Close closes the default logger.
func Close() {
	defaultLogger.Close()
}

// Debug logs a debug message using the default logger.
func Debug(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Info logs an informational message using the default logger.
func Info(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...any) {
	defaultLogger.Error(format, args...)
}

// LogStartup outputs startup information including version and configuration summary.
func LogStartup(apiPort int, dbPath, credentialPath, logDir string) {
	Info("=================================================")
	Info("msixvcdl starting")
	Info("Version: %s", Version)
	Info("Build Time: %s", BuildTime)
	Info("Git Commit: %s", GitCommit)
	Info("-------------------------------------------------")
	Info("  API Port: %d", apiPort)
	Info("  Cache Database: %s", dbPath)
	Info("  Credential File: %s", credentialPath)
	Info("  Log Directory: %s", logDir)
	Info("=================================================")
}
