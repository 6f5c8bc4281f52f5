package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/notify"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/settings"
	storagemock "gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage/mock"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

func newServices(t *testing.T) (*storagemock.MemoryStore, *scoring.Service, *assignment.Engine) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	store := storagemock.NewMemoryStore()
	rs := rulestore.New(store, time.Minute)
	scorer := scoring.NewService(store, store, rs, nil,
		scoring.Config{RuleMaxRawScore: 150, DemographicMaxRawScore: 85, ScoreVersion: "v1", TopFactors: 10})
	engine := assignment.NewEngine(store, rs, settings.NewProvider(store), notify.NewService(store, nil, ""),
		assignment.Config{TerminalStatuses: []string{"CLOSED"}})
	return store, scorer, engine
}

func TestScoreMany_RecordsFailuresInOrder(t *testing.T) {
	store, scorer, engine := newServices(t)
	a, b := model.NewLead(), model.NewLead()
	store.AddLeads(a, b)

	orch, err := NewOrchestrator(scorer, engine, Config{ChunkSize: 2})
	require.NoError(t, err)
	defer orch.Release()

	ids := []string{a.ID, "missing", b.ID}
	res := orch.ScoreMany(context.Background(), ids, scoring.ScoreOptions{})

	assert.Equal(t, Summary{Total: 3, Successful: 2, Failed: 1}, res.Summary)
	require.Len(t, res.Results, 3)
	for i, id := range ids {
		assert.Equal(t, id, res.Results[i].LeadID)
	}
	assert.NotNil(t, res.Results[0].Score)
	assert.Nil(t, res.Results[1].Score)
	assert.NotEmpty(t, res.Results[1].Error)
	assert.NotNil(t, res.Results[2].Score)
	assert.Len(t, store.History, 2)
}

func TestAssignMany_CountsAssignedAndNotAssigned(t *testing.T) {
	store, scorer, engine := newServices(t)
	store.AssignmentRules = append(store.AssignmentRules, *model.NewAssignmentRule(&model.AssignmentRule{
		ID:             "rr",
		AssignmentType: model.AssignRoundRobin,
		Conditions:     []byte(`[{"field":"state","operator":"equals","value":"TX"}]`),
	}))
	store.AddUsers(model.NewUser(&model.User{ID: "u1", IsActive: true, IsAvailable: true, RoundRobinGroup: "default"}))
	tx := model.NewLead(&model.Lead{State: "TX"})
	ok := model.NewLead(&model.Lead{State: "OK"})
	store.AddLeads(tx, ok)

	orch, err := NewOrchestrator(scorer, engine, Config{ChunkSize: 1})
	require.NoError(t, err)
	defer orch.Release()

	res := orch.AssignMany(context.Background(), []string{tx.ID, ok.ID, "missing"}, assignment.AssignOptions{})

	assert.Equal(t, 3, res.Summary.Total)
	assert.Equal(t, 2, res.Summary.Successful)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, 1, res.Summary.Assigned)
	assert.Equal(t, 1, res.Summary.NotAssigned)
	assert.Equal(t, "u1", res.Results[0].Outcome.AssigneeID)
	assert.Equal(t, assignment.ReasonNoMatchingRule, res.Results[1].Outcome.Reason)
	assert.NotEmpty(t, res.Results[2].Error)
}

type funcScorer func(ctx context.Context, leadID string) (*scoring.LeadScore, error)

func (f funcScorer) ScoreLead(ctx context.Context, leadID string, _ scoring.ScoreOptions) (*scoring.LeadScore, error) {
	return f(ctx, leadID)
}

func TestScoreMany_PanicBecomesItemError(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	scorer := funcScorer(func(ctx context.Context, leadID string) (*scoring.LeadScore, error) {
		if leadID == "boom" {
			panic("bad lead")
		}
		return &scoring.LeadScore{LeadID: leadID}, nil
	})
	orch, err := NewOrchestrator(scorer, nil, Config{ChunkSize: 3})
	require.NoError(t, err)
	defer orch.Release()

	res := orch.ScoreMany(context.Background(), []string{"a", "boom", "c"}, scoring.ScoreOptions{})
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Contains(t, res.Results[1].Error, "panic")
	assert.Equal(t, "c", res.Results[2].Score.LeadID)
}

func TestScoreMany_PausesBetweenChunks(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	scorer := funcScorer(func(ctx context.Context, leadID string) (*scoring.LeadScore, error) {
		return &scoring.LeadScore{LeadID: leadID}, nil
	})
	orch, err := NewOrchestrator(scorer, nil, Config{ChunkSize: 2, ChunkDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	defer orch.Release()

	start := time.Now()
	res := orch.ScoreMany(context.Background(), []string{"a", "b", "c", "d", "e"}, scoring.ScoreOptions{})
	assert.Equal(t, 5, res.Summary.Successful)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestScoreMany_CancelMarksRemainingFailed(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	scorer := funcScorer(func(_ context.Context, leadID string) (*scoring.LeadScore, error) {
		calls.Add(1)
		cancel()
		return &scoring.LeadScore{LeadID: leadID}, nil
	})
	orch, err := NewOrchestrator(scorer, nil, Config{ChunkSize: 1, ChunkDelay: time.Second})
	require.NoError(t, err)
	defer orch.Release()

	res := orch.ScoreMany(ctx, []string{"a", "b", "c"}, scoring.ScoreOptions{})
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, Summary{Total: 3, Successful: 1, Failed: 2}, res.Summary)
	assert.Contains(t, res.Results[2].Error, context.Canceled.Error())
}

func TestScoreMany_Empty(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	orch, err := NewOrchestrator(funcScorer(func(context.Context, string) (*scoring.LeadScore, error) {
		return nil, errors.New("unexpected")
	}), nil, Config{})
	require.NoError(t, err)
	defer orch.Release()

	res := orch.ScoreMany(context.Background(), nil, scoring.ScoreOptions{})
	assert.Equal(t, Summary{}, res.Summary)
	assert.Empty(t, res.Results)
}

func TestBackfill_PagesThroughUnscoredLeads(t *testing.T) {
	store, scorer, engine := newServices(t)
	for _, id := range []string{"l-1", "l-2", "l-3", "l-4", "l-5"} {
		store.AddLeads(model.NewLead(&model.Lead{ID: id}))
	}
	scored := 80
	alreadyScored := model.NewLead(&model.Lead{ID: "l-0"})
	alreadyScored.Score = &scored
	converted := model.NewLead(&model.Lead{ID: "l-6"})
	converted.IsConverted = true
	store.AddLeads(alreadyScored, converted)

	orch, err := NewOrchestrator(scorer, engine, Config{ChunkSize: 2})
	require.NoError(t, err)
	defer orch.Release()

	sum, err := orch.Backfill(context.Background(), store, BackfillOptions{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 5, Successful: 5}, sum)
	assert.Len(t, store.History, 5)

	ids, err := store.ListUnscoredLeadIDs(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBackfill_Limit(t *testing.T) {
	store, scorer, engine := newServices(t)
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		store.AddLeads(model.NewLead(&model.Lead{ID: id}))
	}
	orch, err := NewOrchestrator(scorer, engine, Config{})
	require.NoError(t, err)
	defer orch.Release()

	sum, err := orch.Backfill(context.Background(), store, BackfillOptions{PageSize: 10, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
}
