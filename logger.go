package svdag

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/svdag/model"
)

// Logger wraps slog.Logger with scene-specific helpers.
// Field names are kept consistent across operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithScene adds a scene name field to the logger.
func (l *Logger) WithScene(scene string) *Logger {
	return &Logger{
		Logger: l.Logger.With("scene", scene),
	}
}

// WithKey adds a node key field to the logger.
func (l *Logger) WithKey(k model.NodeKey) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", k),
	}
}

// LogBuild logs a build or edit.
func (l *Logger) LogBuild(ctx context.Context, op string, d DAG, nodes int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"extent", d.Extent,
			"depth", d.Depth,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"root", d.Root,
			"extent", d.Extent,
			"depth", d.Depth,
			"nodes", nodes,
			"elapsed", elapsed,
		)
	}
}

// LogWalk logs the end of a walk.
func (l *Logger) LogWalk(ctx context.Context, root model.NodeKey, visited int, err error) {
	if err != nil {
		l.WarnContext(ctx, "walk aborted",
			"root", root,
			"visited", visited,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "walk completed",
			"root", root,
			"visited", visited,
		)
	}
}

// LogPublish logs a root published into the shared region.
func (l *Logger) LogPublish(ctx context.Context, d DAG, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish failed",
			"root", d.Root,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "root published",
			"root", d.Root,
			"extent", d.Extent,
			"depth", d.Depth,
		)
	}
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, op, name string, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot "+op,
			"name", name,
			"version", version,
		)
	}
}
