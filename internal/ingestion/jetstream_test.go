package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
	clientmock "gitlab.com/panda-exteriors/api/lead-routing-engine/internal/jetstream/mock"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

func natsConfig() config.NATSConfig {
	return config.NATSConfig{
		Stream:        "CRM_LEADS",
		SubjectPrefix: "crm.leads",
		Consumer:      "lead-routing-engine",
		QueueGroup:    "lead-routing-engine",
		MaxAgeDays:    7,
		MaxDeliver:    5,
		AckWait:       time.Minute,
		NakBaseDelay:  time.Second,
		NakMaxDelay:   16 * time.Second,
	}
}

type fakeMsg struct {
	meta    *nats.MsgMetadata
	metaErr error

	acked   int
	termed  int
	naked   int
	nakWith time.Duration
}

func (m *fakeMsg) Metadata() (*nats.MsgMetadata, error) { return m.meta, m.metaErr }
func (m *fakeMsg) Ack(...nats.AckOpt) error             { m.acked++; return nil }
func (m *fakeMsg) Term(...nats.AckOpt) error            { m.termed++; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	m.naked++
	m.nakWith = d
	return nil
}

func delivery(n uint64) *fakeMsg {
	return &fakeMsg{meta: &nats.MsgMetadata{NumDelivered: n, Sequence: nats.SequencePair{Stream: 42, Consumer: 7}}}
}

func newTestConsumer(t *testing.T, handler EventHandler) (*Consumer, *clientmock.ClientMock) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	client := new(clientmock.ClientMock)
	router := NewRouter("crm.leads")
	router.Register("lead.created", handler)
	return NewConsumer(client, router, natsConfig()), client
}

func TestConsumer_Setup(t *testing.T) {
	c, client := newTestConsumer(t, nil)
	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "CRM_LEADS" && assert.ObjectsAreEqual([]string{"crm.leads.>"}, sc.Subjects)
	})).Return(nil)
	client.On("SetupConsumer", mock.Anything, "CRM_LEADS", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "lead-routing-engine" && cc.FilterSubject == "crm.leads.lead.created" && cc.MaxDeliver == 5
	})).Return(nil)

	require.NoError(t, c.Setup(context.Background()))
	client.AssertExpectations(t)
}

func TestConsumer_Setup_StreamError(t *testing.T) {
	c, client := newTestConsumer(t, nil)
	client.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("no jetstream"))

	err := c.Setup(context.Background())
	assert.ErrorContains(t, err, "CRM_LEADS")
	client.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_StartAndStop(t *testing.T) {
	c, client := newTestConsumer(t, nil)
	client.On("SubscribePush", "crm.leads.lead.created", "lead-routing-engine", "lead-routing-engine", "CRM_LEADS", mock.Anything).
		Return(nil, nil)

	require.NoError(t, c.Start())
	c.Stop()
	assert.Error(t, c.ctx.Err())
	client.AssertExpectations(t)
}

func TestConsumer_Start_Error(t *testing.T) {
	c, client := newTestConsumer(t, nil)
	client.On("SubscribePush", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNATS)

	assert.ErrorIs(t, c.Start(), apperrors.ErrNATS)
}

func TestConsumer_Process(t *testing.T) {
	var seen *MessageMetadata
	var seenRequestID string
	c, _ := newTestConsumer(t, func(ctx context.Context, md *MessageMetadata, payload []byte) error {
		seen = md
		seenRequestID, _ = actor.FromRequestIDContext(ctx)
		switch string(payload) {
		case "retry":
			return apperrors.NewRetryable(apperrors.ErrDatabase, "db down")
		case "fatal":
			return apperrors.NewFatal(apperrors.ErrNotFound, "gone")
		case "panic":
			panic("boom")
		}
		return nil
	})

	t.Run("ack on success", func(t *testing.T) {
		msg := delivery(1)
		header := nats.Header{}
		header.Set("X-Request-Id", "req-1")
		c.process(msg, "crm.leads.lead.created", header, []byte("ok"))
		assert.Equal(t, 1, msg.acked)
		assert.Equal(t, "lead.created", seen.Event)
		assert.Equal(t, "msg-42", seen.MessageID)
		assert.Equal(t, "req-1", seenRequestID)
	})

	t.Run("nak with backoff on retryable", func(t *testing.T) {
		msg := delivery(3)
		c.process(msg, "crm.leads.lead.created", nil, []byte("retry"))
		assert.Equal(t, 1, msg.naked)
		assert.Equal(t, 4*time.Second, msg.nakWith)
		assert.Equal(t, "msg-42", seenRequestID)
	})

	t.Run("term after max deliveries", func(t *testing.T) {
		msg := delivery(5)
		c.process(msg, "crm.leads.lead.created", nil, []byte("retry"))
		assert.Equal(t, 1, msg.termed)
	})

	t.Run("discard on fatal", func(t *testing.T) {
		msg := delivery(1)
		c.process(msg, "crm.leads.lead.created", nil, []byte("fatal"))
		assert.Equal(t, 1, msg.acked)
		assert.Zero(t, msg.naked)
	})

	t.Run("panic is discarded", func(t *testing.T) {
		msg := delivery(1)
		c.process(msg, "crm.leads.lead.created", nil, []byte("panic"))
		assert.Equal(t, 1, msg.acked)
	})

	t.Run("unknown event is discarded", func(t *testing.T) {
		msg := delivery(1)
		c.process(msg, "crm.leads.lead.deleted", nil, nil)
		assert.Equal(t, 1, msg.acked)
	})

	t.Run("bad metadata terminates", func(t *testing.T) {
		msg := &fakeMsg{metaErr: errors.New("not a jetstream message")}
		c.process(msg, "crm.leads.lead.created", nil, nil)
		assert.Equal(t, 1, msg.termed)
	})
}

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 1 * time.Second
	maxDelay := 10 * time.Second
	maxDeliver := 6
	retryable := apperrors.NewRetryable(errors.New("transient"), "transient")

	tests := []struct {
		name           string
		processingErr  error
		numDelivered   uint64
		expectedAction AckNakAction
		expectedDelay  time.Duration
	}{
		{"success", nil, 1, ActionAck, 0},
		{"retryable first attempt", retryable, 1, ActionNakDelay, time.Second},
		{"retryable second attempt", retryable, 2, ActionNakDelay, 2 * time.Second},
		{"retryable fourth attempt", retryable, 4, ActionNakDelay, 8 * time.Second},
		{"retryable delay capped", retryable, 5, ActionNakDelay, 10 * time.Second},
		{"retryable at max deliver", retryable, 6, ActionTerm, 0},
		{"fatal", apperrors.NewFatal(errors.New("bad"), "bad"), 1, ActionDiscard, 0},
		{"unmarked error is not retried", errors.New("other"), 1, ActionDiscard, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, delay := determineAckNakAction(tt.processingErr, tt.numDelivered, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tt.expectedAction, action)
			assert.Equal(t, tt.expectedDelay, delay)
		})
	}
}
