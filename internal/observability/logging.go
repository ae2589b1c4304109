package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with redaction of platform credentials.
//
// Built on log/slog with:
//   - Configurable levels (debug, info, warn, error)
//   - JSON output for production, text for development
//   - Redaction of API tokens that may leak through error strings
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" or "text". JSON is the production default.
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer `yaml:"-"`
}

// defaultRedactPatterns covers the credentials this system handles: Slack bot
// tokens and OpenAI API keys.
var defaultRedactPatterns = []string{
	`xox[abps]-[a-zA-Z0-9-]{10,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`(?i)(token|secret|api[_-]?key)[\s:=]+["']?([^\s"']{8,})["']?`,
}

// NewLogger creates a structured logger. Empty config fields fall back to
// info level, JSON format, and stdout.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{Level: LogLevelFromString(config.Level)}
	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns))
	for _, pattern := range defaultRedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
}

// WithFields returns a logger with the given fields added to all records.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		config:  l.config,
		redacts: l.redacts,
	}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, arg := range args {
		redacted[i] = l.redactValue(arg)
	}
	l.logger.Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// LogLevelFromString converts a string to a slog.Level, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
