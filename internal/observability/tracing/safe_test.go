package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhooks/:provider"),
		attribute.String("email", "a@example.com"),
		attribute.String("client_secret", "pi_secret"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
	err := SafeError(errors.New(strings.Repeat("x", 1000)))
	if len(err.Error()) != 256 {
		t.Fatalf("expected truncated message, got %d", len(err.Error()))
	}
}
