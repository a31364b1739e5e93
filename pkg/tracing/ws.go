package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/relay/pkg/ws"
)

// WSMiddleware 为每条 WebSocket 命令创建 ws.<event> Span
func WSMiddleware() ws.MiddlewareFunc {
	return func(ctx context.Context, c *ws.Client, msg *ws.Message, next ws.NextFunc) error {
		attrs := []attribute.KeyValue{
			attribute.String("ws.event", msg.Event),
		}
		if msg.RequestID != "" {
			attrs = append(attrs, attribute.String("ws.request_id", msg.RequestID))
		}
		if c != nil {
			attrs = append(attrs,
				attribute.String("ws.conn_id", c.ID),
				attribute.String("enduser.id", c.Identity.ID),
			)
		}

		ctx, span := StartSpan(ctx, "ws."+msg.Event,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(ctx)
		RecordError(span, err)
		return err
	}
}
