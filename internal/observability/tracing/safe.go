package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var blockedAttributeKeys = map[string]struct{}{
	"email":             {},
	"card_number":       {},
	"client_secret":     {},
	"stripe_signature":  {},
	"authorization":     {},
	"payment_method_id": {},
}

// ExtractContext pulls remote trace context out of inbound headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry personal or payment data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[strings.ToLower(string(attr.Key))]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is bounded in size for span events.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
