package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLogLevel = LevelInfo
	useColors       = IsTerminal(os.Stderr.Fd())
	logOutput       io.Writer = os.Stderr
	logger          = buildLogger()
)

func buildLogger() zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        logOutput,
		TimeFormat: "15:04:05",
		NoColor:    !useColors,
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(toZerolog(currentLogLevel))
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	currentLogLevel = level
	logger = buildLogger()
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// IsQuiet reports whether only errors are displayed
func IsQuiet() bool {
	return currentLogLevel >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	useColors = enabled
	logger = buildLogger()
}

// SetOutput redirects log output. Tests use it to capture logs.
func SetOutput(w io.Writer) {
	logOutput = w
	logger = buildLogger()
}

// Logger returns the process logger for structured fields.
// Components derive their own with Logger().With().Str("component", ...).
func Logger() zerolog.Logger {
	return logger
}

// ParseLogLevel converts a level name to a LogLevel, defaulting to info.
// "warning" is accepted alongside zerolog's "warn".
func ParseLogLevel(name string) LogLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return LevelWarn
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return LevelInfo
	}
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return LevelDebug
	case zerolog.WarnLevel:
		return LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	logger.Debug().Msg(fmt.Sprintf(format, args...))
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	logger.Info().Msg(fmt.Sprintf(format, args...))
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	logger.Error().Msg(fmt.Sprintf(format, args...))
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	logger.Info().Bool("ok", true).Msg(fmt.Sprintf(format, args...))
}

// Elapsed rounds a duration for log output
func Elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
