package actor

import (
	"context"
	"errors"
)

type contextKey string

const (
	actorIDKey   contextKey = "actorID"
	requestIDKey contextKey = "requestID"
)

// System is the actor recorded when no user initiated the operation.
const System = "system"

// ErrNoActorInContext is returned when no actor ID is found in context.
var ErrNoActorInContext = errors.New("no actor ID found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context.
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithActorID records the user (or job name) performing the operation.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// FromContext extracts the actor ID from the context.
func FromContext(ctx context.Context) (string, error) {
	actorID, ok := ctx.Value(actorIDKey).(string)
	if !ok || actorID == "" {
		return "", ErrNoActorInContext
	}
	return actorID, nil
}

// OrSystem returns the actor ID from the context, or System when absent.
func OrSystem(ctx context.Context) string {
	if id, err := FromContext(ctx); err == nil {
		return id
	}
	return System
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context.
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
