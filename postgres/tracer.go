package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type spanKey struct{}

var _ pgx.QueryTracer = (*pgxTracer)(nil)

// pgxTracer creates one span per statement.
type pgxTracer struct {
	tracer trace.Tracer
}

func (p *pgxTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	ctx, span := p.tracer.Start(ctx, "pgx", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.host", conn.Config().Host),
		attribute.Int("db.port", int(conn.Config().Port)),
		attribute.String("db.name", conn.Config().Database),
		attribute.String("db.user", conn.Config().User),
		attribute.String("db.statement", data.SQL),
		attribute.StringSlice("db.args", argsToStrings(data.Args)),
	))

	return context.WithValue(ctx, spanKey{}, span)
}

func (p *pgxTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))

	if data.Err != nil {
		span.SetStatus(codes.Error, data.Err.Error())
	}

	span.End()
}

func argsToStrings(in []any) []string {
	s := make([]string, len(in))

	for i, arg := range in {
		s[i] = fmt.Sprintf("%v", arg)
	}

	return s
}
