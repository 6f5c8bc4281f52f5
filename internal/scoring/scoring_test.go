package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rules"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	storagemock "gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage/mock"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

func floatPtr(f float64) *float64 { return &f }

func compiledRules(t *testing.T, rows ...*model.ScoringRule) *rulestore.RuleSet {
	t.Helper()
	rs := &rulestore.RuleSet{}
	for _, row := range rows {
		c, err := rules.CompileScoringRule(*row)
		require.NoError(t, err)
		rs.Scoring = append(rs.Scoring, c)
		if c.Impact > 0 {
			rs.MaxRawScore += c.Impact
		}
	}
	return rs
}

func roofingRules() []*model.ScoringRule {
	return []*model.ScoringRule{
		model.NewScoringRule(&model.ScoringRule{Name: "Referral source", Field: "source", Operator: "equals", Value: model.JSONValue("Referral"), ScoreImpact: 30, Category: "source"}),
		model.NewScoringRule(&model.ScoringRule{Name: "Self generated", Field: "isSelfGen", Operator: "equals", Value: model.JSONValue(true), ScoreImpact: 15, Category: "source"}),
		model.NewScoringRule(&model.ScoringRule{Name: "Roof work", Field: "workType", Operator: "contains", Value: model.JSONValue("roof"), ScoreImpact: 15, Category: "work"}),
	}
}

func TestRuleScorer_Normalizes(t *testing.T) {
	rs := compiledRules(t, roofingRules()...)
	lead := model.NewLead(&model.Lead{LeadSource: "referral", WorkType: "Roof Replacement"})

	res := RuleScorer{Divisor: 150}.Score(lead, rs)
	assert.Equal(t, 45, res.RawScore)
	assert.Equal(t, 30, res.Score)
	require.Len(t, res.Factors, 2)
	assert.Equal(t, model.Factor{Name: "Referral source", Impact: 30, Category: "source", Field: "leadSource"}, res.Factors[0])

	again := RuleScorer{Divisor: 150}.Score(lead, rs)
	assert.Equal(t, res, again)
}

func TestRuleScorer_ClampsAndDerives(t *testing.T) {
	big := compiledRules(t,
		model.NewScoringRule(&model.ScoringRule{Field: "state", Operator: "exists", ScoreImpact: 120}),
		model.NewScoringRule(&model.ScoringRule{Field: "city", Operator: "exists", ScoreImpact: 100}),
	)
	lead := model.NewLead()
	assert.Equal(t, 100, RuleScorer{Divisor: 150}.Score(lead, big).Score)

	negative := compiledRules(t, model.NewScoringRule(&model.ScoringRule{Field: "state", Operator: "exists", ScoreImpact: -40}))
	res := RuleScorer{Divisor: 150}.Score(lead, negative)
	assert.Equal(t, -40, res.RawScore)
	assert.Equal(t, 0, res.Score)

	half := compiledRules(t,
		model.NewScoringRule(&model.ScoringRule{Field: "state", Operator: "exists", ScoreImpact: 20}),
		model.NewScoringRule(&model.ScoringRule{Field: "state", Operator: "not_exists", ScoreImpact: 20}),
	)
	assert.Equal(t, 13, RuleScorer{Divisor: 150}.Score(lead, half).Score)
	assert.Equal(t, 50, RuleScorer{Divisor: 150, DeriveDivisor: true}.Score(lead, half).Score)
}

func TestDemographicScorer(t *testing.T) {
	scorer := DemographicScorer{Divisor: 85}

	top := scorer.Score(&model.EnrichmentRecord{
		MedianHouseholdIncome: floatPtr(160000),
		MedianHomeValue:       floatPtr(510000),
		HomeownershipRate:     floatPtr(85),
		MedianAge:             floatPtr(50),
	})
	assert.Equal(t, 85, top.RawScore)
	assert.Equal(t, 100, top.Score)
	assert.Len(t, top.Factors, 4)
	assert.True(t, top.Available)

	partial := scorer.Score(&model.EnrichmentRecord{
		MedianHouseholdIncome: floatPtr(80000),
		HomeownershipRate:     floatPtr(65),
		MedianAge:             floatPtr(30),
	})
	assert.Equal(t, 30, partial.RawScore)
	assert.Equal(t, 35, partial.Score)

	none := scorer.Score(nil)
	assert.False(t, none.Available)
	assert.Equal(t, 0, none.Score)

	below := scorer.Score(&model.EnrichmentRecord{MedianHouseholdIncome: floatPtr(20000)})
	assert.True(t, below.Available)
	assert.Equal(t, 0, below.RawScore)
}

func TestCombine(t *testing.T) {
	rule := Result{Score: 50, Available: true}
	demo := Result{Score: 100, Available: true}

	final := Combine(rule, demo, nil, 10)
	assert.Equal(t, 70, final.Score)
	assert.Equal(t, model.RankB, final.Rank)
	assert.False(t, final.UsedML)

	withML := Combine(rule, demo, &MLResult{Score: 80}, 10)
	assert.Equal(t, 71, withML.Score)
	assert.True(t, withML.UsedML)

	noDemo := Combine(Result{Score: 33, Available: true}, Result{}, nil, 10)
	assert.Equal(t, 20, noDemo.Score)
	assert.Equal(t, model.RankD, noDemo.Rank)
}

func TestTopFactors(t *testing.T) {
	var factors []model.Factor
	for i := 1; i <= 12; i++ {
		factors = append(factors, model.Factor{Name: fmt.Sprintf("f%d", i), Impact: i})
	}
	factors = append(factors, model.Factor{Name: "penalty", Impact: -11})

	top := TopFactors(factors, 10)
	require.Len(t, top, 10)
	assert.Equal(t, "f12", top[0].Name)
	assert.Equal(t, "f11", top[1].Name)
	assert.Equal(t, "penalty", top[2].Name)
	assert.Len(t, factors, 13)
}

type stubEnricher struct {
	rec   *model.EnrichmentRecord
	calls int
}

func (s *stubEnricher) Enrich(ctx context.Context, postalCode string) *model.EnrichmentRecord {
	s.calls++
	return s.rec
}

type serviceFixture struct {
	store    *storagemock.MemoryStore
	enricher *stubEnricher
	svc      *Service
	lead     *model.Lead
}

func newServiceFixture(t *testing.T) *serviceFixture {
	logger.Log = zaptest.NewLogger(t)
	store := storagemock.NewMemoryStore()
	for _, r := range roofingRules() {
		store.ScoringRules = append(store.ScoringRules, *r)
	}
	lead := model.NewLead(&model.Lead{LeadSource: "Referral", WorkType: "Roof Repair"})
	store.AddLeads(lead)

	enricher := &stubEnricher{}
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(store, store, rulestore.New(store, time.Minute), enricher,
		Config{RuleMaxRawScore: 150, DemographicMaxRawScore: 85, ScoreVersion: "v1", TopFactors: 10},
		WithClock(func() time.Time { return fixed }),
	)
	return &serviceFixture{store: store, enricher: enricher, svc: svc, lead: lead}
}

func TestScoreLead_WithoutEnrichment(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 30, res.RuleScore)
	assert.Nil(t, res.DemographicScore)
	assert.Equal(t, 18, res.Score)
	assert.Equal(t, model.RankF, res.Rank)
	assert.Equal(t, 1, f.enricher.calls)

	stored := f.store.Lead(f.lead.ID)
	require.NotNil(t, stored.Score)
	require.NotNil(t, stored.ScoredAt)
	assert.Equal(t, 18, *stored.Score)
	assert.Equal(t, model.RankF, *stored.Rank)

	require.Len(t, f.store.History, 1)
	assert.Equal(t, "system", f.store.History[0].ScoredBy)
	assert.Equal(t, 30, f.store.History[0].RuleScore)
}

func TestScoreLead_FetchesAndStoresEnrichment(t *testing.T) {
	f := newServiceFixture(t)
	f.enricher.rec = &model.EnrichmentRecord{
		MedianHouseholdIncome: floatPtr(160000),
		MedianHomeValue:       floatPtr(510000),
		HomeownershipRate:     floatPtr(85),
		MedianAge:             floatPtr(50),
		CensusTract:           "ZCTA5 19103",
	}

	res, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{ScoredBy: "user-9"})
	require.NoError(t, err)
	require.NotNil(t, res.DemographicScore)
	assert.Equal(t, 100, *res.DemographicScore)
	// 30*0.6 + 100*0.4
	assert.Equal(t, 58, res.Score)
	assert.Equal(t, model.RankC, res.Rank)

	stored := f.store.Lead(f.lead.ID)
	require.NotNil(t, stored.EnrichedAt)
	assert.Equal(t, "ZCTA5 19103", stored.CensusTract)
	assert.Equal(t, "user-9", f.store.History[0].ScoredBy)

	// Stored enrichment is reused on the next run.
	_, err = f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.enricher.calls)
}

func TestScoreLead_RescoreAppendsHistoryEachTime(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)
	second, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Rank, second.Rank)
	assert.Len(t, f.store.History, 2)
}

func TestScoreLead_HistoryFailureDoesNotAbort(t *testing.T) {
	f := newServiceFixture(t)
	f.store.HistoryErr = fmt.Errorf("%w: insert failed", apperrors.ErrDatabase)

	res, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 18, res.Score)
	assert.NotNil(t, f.store.Lead(f.lead.ID).Score)
	assert.Empty(t, f.store.History)
}

func TestScoreLead_NotFound(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.ScoreLead(context.Background(), "missing", ScoreOptions{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestScoreLead_RuleLoadFailurePropagates(t *testing.T) {
	f := newServiceFixture(t)
	f.store.RulesErr = fmt.Errorf("%w: connection refused", apperrors.ErrDatabase)

	_, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Nil(t, f.store.Lead(f.lead.ID).Score)
}

type fixedPredictor struct{ score int }

func (p fixedPredictor) Predict(context.Context, *model.Lead) (*MLResult, error) {
	return &MLResult{Score: p.score, Factors: []model.Factor{{Name: "model", Impact: 5, Category: "ml"}}}, nil
}

func TestScoreLead_UsesMLWhenRequested(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.ml = fixedPredictor{score: 90}

	res, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{UseML: true})
	require.NoError(t, err)
	require.NotNil(t, res.MLScore)
	// 30*0.5 + 0*0.3 + 90*0.2
	assert.Equal(t, 33, res.Score)

	plain, err := f.svc.ScoreLead(context.Background(), f.lead.ID, ScoreOptions{})
	require.NoError(t, err)
	assert.Nil(t, plain.MLScore)
	assert.Equal(t, 18, plain.Score)
}

func TestScoreLead_CurrentScoreWriteFailureIsReturned(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	lead := model.NewLead()
	leads := &storagemock.LeadRepoMock{}
	history := &storagemock.ScoreHistoryRepoMock{}
	leads.On("FindLeadByID", mock.Anything, lead.ID).Return(lead, nil)
	leads.On("SaveLeadScore", mock.Anything, lead.ID, mock.Anything).Return(errors.New("database error: write failed"))

	svc := NewService(leads, history, rulestore.New(storagemock.NewMemoryStore(), time.Minute), nil, Config{})
	_, err := svc.ScoreLead(context.Background(), lead.ID, ScoreOptions{})
	assert.EqualError(t, err, "database error: write failed")
	history.AssertNotCalled(t, "AppendScoreHistory", mock.Anything, mock.Anything)
	leads.AssertExpectations(t)
}
