// Package logger configures structured logging for the notification service.
// It builds log/slog loggers and provides attribute helpers for the fields
// that appear across the delivery pipeline.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// Format selects the handler output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseLevel parses a level name. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	}
	return slog.New(handler)
}

// Setup creates a logger and installs it as the slog default.
func Setup(level, format string) *slog.Logger {
	opts := DefaultOptions()
	opts.Level = ParseLevel(level)
	if strings.EqualFold(format, string(FormatText)) {
		opts.Format = FormatText
	}
	log := New(opts)
	slog.SetDefault(log)
	return log
}

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or the slog default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDKey is the attribute key for request tracing.
const RequestIDKey = "request_id"

// Notification pipeline attributes.
func NotificationID(id string) slog.Attr { return slog.String("notification_id", id) }
func TicketID(id string) slog.Attr       { return slog.String("ticket_id", id) }
func MessageID(id string) slog.Attr      { return slog.String("waha_message_id", id) }
func Event(name string) slog.Attr        { return slog.String("event", name) }
func Component(name string) slog.Attr    { return slog.String("component", name) }
func RequestID(id string) slog.Attr      { return slog.String(RequestIDKey, id) }
func Latency(d time.Duration) slog.Attr  { return slog.Duration("latency", d) }

// Phone logs a phone number with all but the last four digits hidden.
func Phone(p string) slog.Attr {
	return slog.String("phone", shared.PhoneNumber(p).Masked())
}

// Err logs an error, or nothing when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
