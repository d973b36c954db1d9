package model

import (
	"context"
	"io"
	"log/slog"
)

type loggerKey struct{}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// WithLogger returns a context whose model calls log to l.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// callLogger returns the logger carried by ctx. Without one, provider
// call logs are dropped.
func callLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return discardLogger
}
