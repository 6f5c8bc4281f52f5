package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/jetstream"
)

// ClientMock is a testify mock of the JetStream client.
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	return m.Called(ctx, streamConfig).Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	return m.Called(ctx, streamName, consumerConfig).Error(0)
}

// SubscribePush returns a nil subscription unless the expectation supplies one.
func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	return m.Called(ctx, subject, data, headers).Error(0)
}

func (m *ClientMock) Connected() bool {
	return m.Called().Bool(0)
}

func (m *ClientMock) Close() {
	m.Called()
}
