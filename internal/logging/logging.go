// Package logging configures the engine's structured logger and carries
// job/assignment identifiers through context so every log line emitted
// while processing a job is automatically attributed to it.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const (
	ctxKeyJobID        ctxKey = "job_id"
	ctxKeyAssignmentID ctxKey = "assignment_id"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	TTY    bool
}

// New builds the process-wide *slog.Logger per Options. Format "json"
// selects the JSON handler and any other value the text handler;
// opts.TTY is not consulted and no level coloring is applied.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)

	handlerOpts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{Key: a.Key, Value: a.Value}
			}
			return a
		},
	}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

func parseLevel(level string) slog.Level {
	switch level {
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

// contextHandler injects job_id/assignment_id attrs pulled from the
// record's context, so callers never have to pass them explicitly.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if jobID, ok := JobID(ctx); ok {
		r.AddAttrs(slog.String("job_id", jobID))
	}
	if assignmentID, ok := AssignmentID(ctx); ok {
		r.AddAttrs(slog.String("assignment_id", assignmentID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithJobID returns a context that carries jobID for subsequent log calls.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ctxKeyJobID, jobID)
}

// JobID retrieves a job ID previously attached with WithJobID.
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyJobID).(string)
	return v, ok
}

// WithAssignmentID returns a context that carries assignmentID for
// subsequent log calls.
func WithAssignmentID(ctx context.Context, assignmentID string) context.Context {
	return context.WithValue(ctx, ctxKeyAssignmentID, assignmentID)
}

// AssignmentID retrieves an assignment ID previously attached with
// WithAssignmentID.
func AssignmentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyAssignmentID).(string)
	return v, ok
}
