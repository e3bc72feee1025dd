package alog

import (
	"context"
	"log/slog"
)

// NewNoop returns a logger that discards everything.
// It is the default logger of a unit of work.
func NewNoop() *slog.Logger {
	return slog.New(noopHandler{})
}

type noopHandler struct{}

var _ slog.Handler = (*noopHandler)(nil)

func (n noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (n noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (n noopHandler) WithAttrs([]slog.Attr) slog.Handler { return n }

func (n noopHandler) WithGroup(string) slog.Handler { return n }
