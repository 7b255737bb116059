// Package logger provides centralized logging for btstest.
// It wraps charmbracelet/log with a global logger and component loggers.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// Logger is the global logger instance used throughout btstest.
var Logger *log.Logger

// output is shared by the global logger and every component logger.
var output io.Writer = os.Stderr

// logFile is the file Configure opened, if any. It is closed when the
// output moves elsewhere.
var logFile *os.File

func init() {
	Logger = newLogger(output, log.InfoLevel)
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	l := log.New(w)
	l.SetTimeFormat("")
	l.SetLevel(level)
	return l
}

// Configure sets up the logger from CLI flags and environment variables.
// A non-empty logLevel wins over BTSTEST_LOG_LEVEL. testMode pins the level
// to info and drops timestamps so output can be compared verbatim.
func Configure(logLevel string, path string, testMode bool) error {
	level := logLevel
	if level == "" {
		level = os.Getenv("BTSTEST_LOG_LEVEL")
	}

	w := io.Writer(os.Stderr)
	var file *os.File
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		file, w = f, f
	}
	closeLogFile()
	logFile = file
	output = w

	Logger = newLogger(output, parseLogLevel(level))
	if testMode {
		Logger.SetReportTimestamp(false)
		Logger.SetLevel(log.InfoLevel)
	}
	return nil
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) {
	closeLogFile()
	output = w
	Logger.SetOutput(w)
}

func closeLogFile() {
	if logFile == nil {
		return
	}
	_ = logFile.Close()
	logFile = nil
}

// parseLogLevel maps a level name to a log.Level. Unknown names mean info.
func parseLogLevel(level string) log.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

var levelBadges = []struct {
	level log.Level
	text  string
	bg    string
}{
	{log.DebugLevel, "DEBUG", "240"},
	{log.InfoLevel, "INFO", "33"},
	{log.WarnLevel, "WARN", "214"},
	{log.ErrorLevel, "ERROR", "196"},
	{log.FatalLevel, "FATAL", "88"},
}

// keyColors highlights the keys btstest logs most.
var keyColors = map[string]string{
	"node":    "99",
	"client":  "39",
	"attempt": "214",
	"error":   "196",
	"command": "46",
	"file":    "51",
	"run":     "244",
}

// NewStyledLogger creates a component logger (e.g. "node", "session") that
// shares the global logger's destination and level.
func NewStyledLogger(prefix string) *log.Logger {
	styles := log.DefaultStyles()
	for _, b := range levelBadges {
		styles.Levels[b.level] = lipgloss.NewStyle().
			SetString(b.text).
			Padding(0, 1).
			Background(lipgloss.Color(b.bg)).
			Foreground(lipgloss.Color("15"))
	}
	for key, color := range keyColors {
		styles.Keys[key] = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	styles.Values["node"] = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	styles.Values["error"] = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	l := log.NewWithOptions(output, log.Options{Prefix: prefix + " "})
	l.SetStyles(styles)
	l.SetLevel(Logger.GetLevel())
	return l
}
