package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs_request_id"
	actorTypeKey ctxKey = "obs_actor_type"
	actorIDKey   ctxKey = "obs_actor_id"
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records who triggered the work: a user, an admin, or a provider webhook.
func WithActor(ctx stdcontext.Context, actorType, actorID string) stdcontext.Context {
	ctx = stdcontext.WithValue(ctx, actorTypeKey, strings.TrimSpace(actorType))
	return stdcontext.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx stdcontext.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	actorType, _ := ctx.Value(actorTypeKey).(string)
	actorID, _ := ctx.Value(actorIDKey).(string)
	return actorType, actorID
}
