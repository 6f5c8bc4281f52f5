package ingestion

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

// Router routes events to handlers by the subject suffix after the prefix.
type Router struct {
	prefix         string
	handlers       map[string]EventHandler
	defaultHandler EventHandler
}

func NewRouter(subjectPrefix string) *Router {
	return &Router{
		prefix:   subjectPrefix,
		handlers: make(map[string]EventHandler),
	}
}

func (r *Router) Register(event string, handler EventHandler) {
	r.handlers[event] = handler
}

// RegisterDefault registers a handler for events with no specific handler.
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// EventName strips the prefix from a subject.
func (r *Router) EventName(subject string) string {
	if r.prefix == "" {
		return subject
	}
	return strings.TrimPrefix(subject, r.prefix+".")
}

// Route fills metadata.Event and calls the matching handler. An event without
// a handler is a fatal error so it is not redelivered.
func (r *Router) Route(ctx context.Context, metadata *MessageMetadata, payload []byte) error {
	metadata.Event = r.EventName(metadata.Subject)
	log := logger.FromContext(ctx).With(
		zap.String("event", metadata.Event),
		zap.String("event_id", metadata.MessageID),
	)
	ctx = logger.WithLogger(ctx, log)

	log.Debug("Event received", zap.Int("payload_bytes", len(payload)))

	handler, ok := r.handlers[metadata.Event]
	if !ok {
		if r.defaultHandler == nil {
			return apperrors.NewFatal(apperrors.ErrBadRequest, "no handler for event %q", metadata.Event)
		}
		log.Warn("No specific handler for event, using default")
		handler = r.defaultHandler
	}
	return handler(ctx, metadata, payload)
}
