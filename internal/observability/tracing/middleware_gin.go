package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// spanParams maps route parameters onto span attribute keys.
var spanParams = map[string]string{
	"provider":  "memberhub.payment.provider",
	"public_id": "memberhub.order.public_id",
	"id":        "memberhub.resource.id",
}

// GinMiddleware opens a server span per request. The span is renamed to the
// matched route once the handler chain has run.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("memberhub/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		for _, p := range c.Params {
			if key, ok := spanParams[p.Key]; ok && p.Value != "" {
				attrs = append(attrs, attribute.String(key, p.Value))
			}
		}
		// identity middleware runs after this one and stores the actor on the
		// request it hands down, so read it back from the final request
		if actorType, actorID := obscontext.ActorFromContext(c.Request.Context()); actorType != "" {
			attrs = append(attrs,
				attribute.String("memberhub.actor.type", actorType),
				attribute.String("memberhub.actor.id", actorID),
			)
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
