package auth

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/domain"
)

// Context keys for authentication data
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
	tokenJTIKey  contextKey = "token_jti"
)

// WithActor stores the authenticated caller in ctx
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the caller stored by WithActor. The zero actor is
// returned when the request is unauthenticated.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok && actor.UserID != ""
}

// WithRequestID tags ctx with the request correlation id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID safely extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}

// WithTokenJTI records the id of the token that authenticated the request
func WithTokenJTI(ctx context.Context, jti string) context.Context {
	return context.WithValue(ctx, tokenJTIKey, jti)
}

// GetTokenJTI safely extracts the token id from the context
func GetTokenJTI(ctx context.Context) string {
	jti, _ := ctx.Value(tokenJTIKey).(string)
	return jti
}
