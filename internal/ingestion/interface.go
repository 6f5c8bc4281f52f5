package ingestion

import (
	"context"
	"time"
)

// MessageMetadata describes one delivery of an inbound event.
type MessageMetadata struct {
	Subject          string
	Event            string
	MessageID        string
	StreamSequence   uint64
	ConsumerSequence uint64
	NumDelivered     uint64
	Timestamp        time.Time
}

// EventHandler processes the payload of one event. Errors should be wrapped
// with apperrors.NewRetryable or apperrors.NewFatal; anything else is treated as fatal.
type EventHandler func(ctx context.Context, metadata *MessageMetadata, payload []byte) error

// RouterInterface dispatches events to handlers by event name.
type RouterInterface interface {
	Register(event string, handler EventHandler)
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *MessageMetadata, payload []byte) error
}

// ConsumerInterface is the lifecycle of a JetStream consumer.
type ConsumerInterface interface {
	Setup(ctx context.Context) error
	Start() error
	Stop()
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*Consumer)(nil)
)
