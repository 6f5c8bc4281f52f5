package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, metadata *MessageMetadata, payload []byte) error {
	return m.Called(ctx, metadata, payload).Error(0)
}

func TestRouter_Route_ExactMatch(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	router := NewRouter("crm.leads")
	h := new(MockHandler)
	router.Register("lead.created", h.Handle)

	md := &MessageMetadata{Subject: "crm.leads.lead.created", MessageID: "m-1"}
	h.On("Handle", mock.Anything, md, []byte(`{}`)).Return(nil)

	require.NoError(t, router.Route(context.Background(), md, []byte(`{}`)))
	assert.Equal(t, "lead.created", md.Event)
	h.AssertExpectations(t)
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	router := NewRouter("crm.leads")
	def := new(MockHandler)
	router.RegisterDefault(def.Handle)
	def.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, router.Route(context.Background(), &MessageMetadata{Subject: "crm.leads.lead.updated"}, nil))
	def.AssertNumberOfCalls(t, "Handle", 1)
}

func TestRouter_Route_NoHandlerIsFatal(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	err := NewRouter("crm.leads").Route(context.Background(), &MessageMetadata{Subject: "crm.leads.lead.updated"}, nil)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorContains(t, err, "lead.updated")
}

func TestRouter_Route_HandlerError(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	router := NewRouter("")
	h := new(MockHandler)
	router.Register("lead.created", h.Handle)
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("handler failed"))

	err := router.Route(context.Background(), &MessageMetadata{Subject: "lead.created"}, nil)
	assert.EqualError(t, err, "handler failed")
}

func TestRouter_EventName(t *testing.T) {
	assert.Equal(t, "lead.created", NewRouter("crm.leads").EventName("crm.leads.lead.created"))
	assert.Equal(t, "other.lead.created", NewRouter("crm.leads").EventName("other.lead.created"))
	assert.Equal(t, "lead.created", NewRouter("").EventName("lead.created"))
}
