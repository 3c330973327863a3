package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries a correlation id set by the upstream gateway.
const Header = "X-Correlation-Id"

const maxIDLength = 64

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
// Webhook deliveries use it to tie the ledger row, payment update and fulfillment logs together.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// Sanitize returns id when it is safe to log and propagate, or "" when it is
// too long or holds characters outside [A-Za-z0-9._:-].
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == ':' || r == '-':
		default:
			return ""
		}
	}
	return id
}
