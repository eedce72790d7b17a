package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with cadence-specific context helpers.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	Level  string
	Format string // auto, text, json
	Output io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New creates a new logger. Every handler is wrapped so chat and LLM
// credentials never reach the output.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default: // auto
		if isTerminal(cfg.Output) {
			handler = slog.NewTextHandler(cfg.Output, opts)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}
	}

	return &Logger{Logger: slog.New(NewRedactingHandler(handler, NewRedactor()))}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithInstance returns a logger with workflow instance context.
func (l *Logger) WithInstance(instanceID string) *Logger {
	return &Logger{Logger: l.Logger.With("instance_id", instanceID)}
}

// WithJob returns a logger with owner job context.
func (l *Logger) WithJob(jobID, ownerKey string) *Logger {
	return &Logger{Logger: l.Logger.With("job_id", jobID, "owner_key", ownerKey)}
}

// WithSchedule returns a logger with check-in schedule context.
func (l *Logger) WithSchedule(scheduleID string) *Logger {
	return &Logger{Logger: l.Logger.With("schedule_id", scheduleID)}
}

// WithCorrelation returns a logger tagged with a run correlation id.
func (l *Logger) WithCorrelation(correlationID string) *Logger {
	return &Logger{Logger: l.Logger.With("correlation_id", correlationID)}
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
