// Package alog is the structured logging of the module, built on log/slog.
//
// The unit of work and the engines log at the levels LevelInfo and LevelDebug,
// below slog.LevelDebug, so they stay silent unless explicitly asked for.
package alog

import (
	"context"
	"log/slog"
)

// Logger interface is a subset of slog.Logger, with the aim to:
//  1. encourage the use of the methods offering context.Context, so that tracing information can be correlated.
//  2. encourage the use of the levels `DEBUG` and `INFO` over others, but without preventing them.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	LogAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr)
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

const (
	// LevelInfo is used to see what is going on inside the unit of work.
	LevelInfo = slog.Level(-8)

	// LevelDebug is used by developers of this module, if you really want to know what is going on.
	LevelDebug = slog.Level(-12)
)

// MapLogLevelsToName replaces the default name of a custom log level with a speaking name.
// Use it as slog.HandlerOptions.ReplaceAttr.
func MapLogLevelsToName(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.LevelKey {
		level, _ := attr.Value.Any().(slog.Level)

		levelLabel, exists := getLevelNames()[level]
		if !exists {
			levelLabel = level.String()
		}

		attr.Value = slog.StringValue(levelLabel)
	}

	return attr
}

func getLevelNames() map[slog.Leveler]string {
	return map[slog.Leveler]string{
		LevelInfo:  "UOW:INFO",
		LevelDebug: "UOW:DEBUG",
	}
}

// ParseLevel parses the level names used in configuration files.
// Next to the slog names, "uow:info" and "uow:debug" are understood.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "uow:info", "UOW:INFO":
		return LevelInfo, nil
	case "uow:debug", "UOW:DEBUG":
		return LevelDebug, nil
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(name))

	return level, err //nolint:wrapcheck // slog error is descriptive
}

// Error returns an attribute for err, so all errors are logged with the same key.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}

	return slog.String("err", err.Error())
}

type ctxAttrKey struct{}

// AddAttr adds a single attribute to ctx. All attributes in ctx are logged by the loggers of New.
func AddAttr(ctx context.Context, attr slog.Attr) context.Context {
	return AddAttrs(ctx, attr)
}

// AddAttrs adds multiple attributes to ctx.
func AddAttrs(ctx context.Context, newAttrs ...slog.Attr) context.Context {
	attrs := FromContext(ctx)

	all := make([]slog.Attr, 0, len(attrs)+len(newAttrs))
	all = append(all, attrs...)
	all = append(all, newAttrs...)

	return context.WithValue(ctx, ctxAttrKey{}, all)
}

// ClearAttrs removes all attributes from ctx.
func ClearAttrs(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxAttrKey{}, []slog.Attr{})
}

// FromContext returns the attributes stored in ctx. It never returns nil.
func FromContext(ctx context.Context) []slog.Attr {
	if attrs, ok := ctx.Value(ctxAttrKey{}).([]slog.Attr); ok {
		return attrs
	}

	return []slog.Attr{}
}
