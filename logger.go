package geosem

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/geosem/model"
)

// Logger wraps slog.Logger with geosem-specific context.
// This provides structured logging with consistent field names.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithModel adds a model id field to the logger.
func (l *Logger) WithModel(id model.ModelID) *Logger {
	return &Logger{
		Logger: l.Logger.With("model_id", string(id)),
	}
}

// WithAtom adds an atom id field to the logger.
func (l *Logger) WithAtom(id model.AtomID) *Logger {
	return &Logger{
		Logger: l.Logger.With("atom_id", uint64(id)),
	}
}

// LogIngest logs a content ingestion.
func (l *Logger) LogIngest(ctx context.Context, id model.AtomID, size int, duplicate bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"size_bytes", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "ingest completed",
			"atom_id", uint64(id),
			"size_bytes", size,
			"duplicate", duplicate,
		)
	}
}

// LogAttach logs an embedding attachment.
func (l *Logger) LogAttach(ctx context.Context, id model.AtomID, modelID model.ModelID, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "attach failed",
			"atom_id", uint64(id),
			"model_id", string(modelID),
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "attach completed",
			"atom_id", uint64(id),
			"model_id", string(modelID),
			"dimension", dimension,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, candidates, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"candidates", candidates,
			"results", results,
		)
	}
}

// LogRebase logs a basis rebase.
func (l *Logger) LogRebase(ctx context.Context, modelID model.ModelID, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebase failed",
			"model_id", string(modelID),
			"basis_version", version,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebase completed",
			"model_id", string(modelID),
			"basis_version", version,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"key", key,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"key", key,
		)
	}
}
