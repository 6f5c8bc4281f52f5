package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/jetstream"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed
	ActionDiscard                      // non-retryable failure, ACK so it is not redelivered
	ActionNakDelay                     // retryable failure, NAK with backoff
	ActionTerm                         // retryable failure on the last allowed delivery
)

func (a AckNakAction) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionDiscard:
		return "ack_discard"
	case ActionNakDelay:
		return "nak_retry"
	case ActionTerm:
		return "term"
	}
	return "unknown"
}

// acker is the part of *nats.Msg the consumer needs after routing.
type acker interface {
	Metadata() (*nats.MsgMetadata, error)
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// determineAckNakAction decides the fate of a message. Only errors marked
// retryable are redelivered; the delay doubles per attempt up to nakMaxDelay.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (AckNakAction, time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}
	if !apperrors.IsRetryable(processingErr) {
		return ActionDiscard, 0
	}
	if maxDeliver > 0 && numDelivered >= uint64(maxDeliver) {
		return ActionTerm, 0
	}

	delay := nakBaseDelay
	for i := uint64(1); i < numDelivered && delay < nakMaxDelay; i++ {
		delay *= 2
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// Consumer is the durable queue consumer for lead events.
type Consumer struct {
	client jetstream.ClientInterface
	router RouterInterface
	cfg    config.NATSConfig
	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
}

func NewConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.NATSConfig) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))
	return &Consumer{client: client, router: router, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Setup ensures the stream and the durable consumer exist.
func (c *Consumer) Setup(ctx context.Context) error {
	if err := c.client.SetupStream(ctx, jetstream.LeadStreamConfig(c.cfg)); err != nil {
		return fmt.Errorf("failed to setup stream '%s': %w", c.cfg.Stream, err)
	}
	if err := c.client.SetupConsumer(ctx, c.cfg.Stream, jetstream.LeadCreatedConsumerConfig(c.cfg)); err != nil {
		return fmt.Errorf("failed to setup consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}
	logger.FromContext(ctx).Info("Lead event consumer set up", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	return nil
}

func (c *Consumer) Start() error {
	subject := jetstream.Subject(c.cfg.SubjectPrefix, jetstream.SubjectLeadCreated)
	sub, err := c.client.SubscribePush(subject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	logger.FromContext(c.ctx).Info("Lead event consumer subscribed", zap.String("subject", subject))
	return nil
}

// Stop drains the subscription and cancels in-flight processing.
func (c *Consumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining subscription", zap.Error(err))
		}
	}
	c.cancel()
	log.Info("Lead event consumer stopped")
}

func (c *Consumer) handleMessage(msg *nats.Msg) {
	c.process(msg, msg.Subject, msg.Header, msg.Data)
}

func (c *Consumer) process(msg acker, subject string, header nats.Header, data []byte) {
	start := utils.Now()
	log := logger.FromContext(c.ctx).With(zap.String("subject", subject))

	meta, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		observer.IncEventAction(subject, ActionTerm.String(), "metadata")
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to TERM message", zap.Error(termErr))
		}
		return
	}

	md := &MessageMetadata{
		Subject:          subject,
		MessageID:        header.Get(nats.MsgIdHdr),
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		Timestamp:        meta.Timestamp,
	}
	if md.MessageID == "" {
		md.MessageID = fmt.Sprintf("msg-%d", md.StreamSequence)
	}
	requestID := header.Get("X-Request-Id")
	if requestID == "" {
		requestID = md.MessageID
	}

	ctx := actor.WithRequestID(c.ctx, requestID)
	ctx = actor.WithActorID(ctx, actor.System)
	log = log.With(
		zap.String("nats_message_id", md.MessageID),
		zap.Uint64("stream_sequence", md.StreamSequence),
		zap.Uint64("num_delivered", md.NumDelivered),
	)
	ctx = logger.WithLogger(ctx, log)

	processingErr := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return c.router.Route(ctx, md, data)
	})(ctx)

	action, delay := determineAckNakAction(processingErr, md.NumDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errorType := "none"
	if processingErr != nil {
		errorType = processingErr.Error()
	}
	observer.IncEventAction(subject, action.String(), errorType)

	var ackErr error
	switch action {
	case ActionAck:
		log.Info("Processed message", zap.Duration("duration", time.Since(start)))
		ackErr = msg.Ack()
	case ActionDiscard:
		log.Warn("Discarding message after non-retryable failure", zap.Error(processingErr))
		ackErr = msg.Ack()
	case ActionNakDelay:
		log.Info("NAKing message for redelivery", zap.Error(processingErr), zap.Duration("nak_delay", delay))
		ackErr = msg.NakWithDelay(delay)
	case ActionTerm:
		log.Error("Giving up on message after max deliveries", zap.Error(processingErr), zap.Int("max_deliver", c.cfg.MaxDeliver))
		ackErr = msg.Term()
	}
	if ackErr != nil {
		log.Error("Failed to acknowledge message", zap.String("action", action.String()), zap.Error(ackErr))
	}
}
