package middleware

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/tracing"
)

// TracingConfig HTTP 链路追踪配置
type TracingConfig struct {
	// ExcludePaths 不追踪的路径
	ExcludePaths []string
}

// Tracing HTTP Server Span 中间件
//
// 提取上游 TraceContext，把 TraceID 写入上下文，响应头回写 traceparent。
func Tracing(cfgs ...*TracingConfig) relay.HandlerFunc {
	cfg := &TracingConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	skip := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skip[path] = true
	}

	return func(c *relay.Context) {
		req := c.Request()
		if skip[req.URL.Path] {
			c.Next()
			return
		}

		// 每次请求时获取传播器，Provider 可以晚于中间件初始化
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		route := c.FullPath()
		if route == "" {
			route = req.URL.Path
		}
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.HTTPRoute(route),
			semconv.UserAgentOriginal(req.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		ctx, span := tracing.StartSpan(ctx, req.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		if traceID := tracing.TraceID(ctx); traceID != "" {
			relay.SetContextTraceID(c, traceID)
		}
		c.SetRequestContext(ctx)
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))

		c.Next()

		status := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
