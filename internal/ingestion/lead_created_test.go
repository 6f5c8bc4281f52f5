package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/notify"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/settings"
	storagemock "gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage/mock"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

func newLeadCreatedHandler(t *testing.T) (*storagemock.MemoryStore, *LeadCreatedHandler) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	store := storagemock.NewMemoryStore()
	rs := rulestore.New(store, time.Minute)
	scorer := scoring.NewService(store, store, rs, nil,
		scoring.Config{RuleMaxRawScore: 150, DemographicMaxRawScore: 85, ScoreVersion: "v1", TopFactors: 10})
	engine := assignment.NewEngine(store, rs, settings.NewProvider(store), notify.NewService(store, nil, ""),
		assignment.Config{TerminalStatuses: []string{"CLOSED"}})
	return store, NewLeadCreatedHandler(scorer, engine)
}

func TestLeadCreated_ScoresAndAssigns(t *testing.T) {
	store, h := newLeadCreatedHandler(t)
	store.AssignmentRules = append(store.AssignmentRules, *model.NewAssignmentRule())
	store.AddUsers(model.NewUser(&model.User{ID: "u1", IsActive: true, IsAvailable: true, RoundRobinGroup: "default"}))
	lead := model.NewLead()
	store.AddLeads(lead)

	err := h.Handle(context.Background(), &MessageMetadata{}, []byte(`{"lead_id":"`+lead.ID+`","auto_assign":true}`))
	require.NoError(t, err)

	assert.Len(t, store.History, 1)
	require.NotNil(t, store.Lead(lead.ID).OwnerID)
	assert.Equal(t, "u1", *store.Lead(lead.ID).OwnerID)
}

func TestLeadCreated_ScoreOnly(t *testing.T) {
	store, h := newLeadCreatedHandler(t)
	store.AssignmentRules = append(store.AssignmentRules, *model.NewAssignmentRule())
	store.AddUsers(model.NewUser(&model.User{ID: "u1", IsActive: true, IsAvailable: true, RoundRobinGroup: "default"}))
	lead := model.NewLead()
	store.AddLeads(lead)

	require.NoError(t, h.Handle(context.Background(), &MessageMetadata{}, []byte(`{"lead_id":"`+lead.ID+`"}`)))
	assert.Len(t, store.History, 1)
	assert.Nil(t, store.Lead(lead.ID).OwnerID)
	assert.Zero(t, store.TxCount)
}

func TestLeadCreated_BadPayloadIsFatal(t *testing.T) {
	_, h := newLeadCreatedHandler(t)
	for _, payload := range []string{`not json`, `{}`, `{"lead_id":""}`} {
		err := h.Handle(context.Background(), &MessageMetadata{}, []byte(payload))
		assert.True(t, apperrors.IsFatal(err), payload)
	}
}

func TestLeadCreated_MissingLeadIsFatal(t *testing.T) {
	_, h := newLeadCreatedHandler(t)
	err := h.Handle(context.Background(), &MessageMetadata{}, []byte(`{"lead_id":"ghost"}`))
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLeadCreated_InfrastructureErrorIsRetryable(t *testing.T) {
	store, h := newLeadCreatedHandler(t)
	store.RulesErr = errors.New("connection reset by peer")
	lead := model.NewLead()
	store.AddLeads(lead)

	err := h.Handle(context.Background(), &MessageMetadata{}, []byte(`{"lead_id":"`+lead.ID+`"}`))
	assert.True(t, apperrors.IsRetryable(err))
}
