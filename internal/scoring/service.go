package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// RuleSource supplies the current compiled rule set.
type RuleSource interface {
	Get(ctx context.Context) (*rulestore.RuleSet, error)
}

// Enricher looks up demographics for a postal code. It never fails; nil means unavailable.
type Enricher interface {
	Enrich(ctx context.Context, postalCode string) *model.EnrichmentRecord
}

// Config holds the scoring knobs.
type Config struct {
	RuleMaxRawScore        float64
	DeriveRuleDivisor      bool
	DemographicMaxRawScore float64
	ScoreVersion           string
	TopFactors             int
}

// ScoreOptions control a single scoring run.
type ScoreOptions struct {
	UseML bool `json:"use_ml"`
	// ScoredBy is recorded on the history row. Defaults to "system".
	ScoredBy string `json:"scored_by,omitempty"`
	// RefreshEnrichment refetches demographics even when the lead already has them.
	RefreshEnrichment bool `json:"refresh_enrichment"`
}

// LeadScore is what ScoreLead returns to callers.
type LeadScore struct {
	LeadID           string         `json:"lead_id"`
	Score            int            `json:"score"`
	Rank             model.Rank     `json:"rank"`
	RuleScore        int            `json:"rule_score"`
	DemographicScore *int           `json:"demographic_score,omitempty"`
	MLScore          *int           `json:"ml_score,omitempty"`
	TopFactors       []model.Factor `json:"top_factors"`
	ScoredAt         time.Time      `json:"scored_at"`
	ScoreVersion     string         `json:"score_version"`
}

// Service scores leads and persists the result.
type Service struct {
	leads    storage.LeadRepo
	history  storage.ScoreHistoryRepo
	rules    RuleSource
	enricher Enricher
	ml       MLPredictor

	ruleScorer        RuleScorer
	demographicScorer DemographicScorer
	scoreVersion      string
	topFactors        int
	now               func() time.Time
}

type Option func(*Service)

func WithMLPredictor(p MLPredictor) Option {
	return func(s *Service) { s.ml = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a scoring service. enricher may be nil to disable enrichment.
func NewService(leads storage.LeadRepo, history storage.ScoreHistoryRepo, rules RuleSource, enricher Enricher, cfg Config, opts ...Option) *Service {
	s := &Service{
		leads:             leads,
		history:           history,
		rules:             rules,
		enricher:          enricher,
		ml:                NoopPredictor{},
		ruleScorer:        RuleScorer{Divisor: cfg.RuleMaxRawScore, DeriveDivisor: cfg.DeriveRuleDivisor},
		demographicScorer: DemographicScorer{Divisor: cfg.DemographicMaxRawScore},
		scoreVersion:      cfg.ScoreVersion,
		topFactors:        cfg.TopFactors,
		now:               utils.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreLead computes, persists and returns a lead's score. The current-score
// write is authoritative and its failure is returned; the history append and
// enrichment write-back are best effort.
func (s *Service) ScoreLead(ctx context.Context, leadID string, opts ScoreOptions) (result *LeadScore, err error) {
	start := s.now()
	defer func() { observer.ObserveScoringDuration(s.now().Sub(start), err) }()

	log := logger.FromContext(ctx).With(zap.String("lead_id", leadID))

	lead, err := s.leads.FindLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	var ruleResult, demographicResult Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := s.rules.Get(gctx)
		if err != nil {
			return fmt.Errorf("rule set: %w", err)
		}
		ruleResult = s.ruleScorer.Score(lead, rs)
		return nil
	})
	g.Go(func() error {
		demographicResult = s.demographicScorer.Score(s.resolveEnrichment(gctx, lead, opts.RefreshEnrichment))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ml *MLResult
	if opts.UseML && s.ml != nil {
		ml, err = s.ml.Predict(ctx, lead)
		if err != nil {
			log.Warn("ML prediction failed, scoring without it", zap.Error(err))
			observer.IncSoftFailure("ml_predict")
			ml = nil
		}
	}

	final := Combine(ruleResult, demographicResult, ml, s.topFactors)
	factorsJSON, err := json.Marshal(final.Factors)
	if err != nil {
		return nil, fmt.Errorf("marshal factors: %w", err)
	}

	scoredAt := s.now()
	if err := s.leads.SaveLeadScore(ctx, leadID, storage.LeadScore{
		Score:        final.Score,
		Rank:         final.Rank,
		Factors:      datatypes.JSON(factorsJSON),
		ScoredAt:     scoredAt,
		ScoreVersion: s.scoreVersion,
	}); err != nil {
		return nil, err
	}

	result = &LeadScore{
		LeadID:       leadID,
		Score:        final.Score,
		Rank:         final.Rank,
		RuleScore:    ruleResult.Score,
		TopFactors:   final.TopFactors,
		ScoredAt:     scoredAt,
		ScoreVersion: s.scoreVersion,
	}
	if demographicResult.Available {
		v := demographicResult.Score
		result.DemographicScore = &v
	}
	if ml != nil {
		v := ml.Score
		result.MLScore = &v
	}

	scoredBy := opts.ScoredBy
	if scoredBy == "" {
		scoredBy = actor.OrSystem(ctx)
	}
	entry := model.ScoreHistory{
		LeadID:           leadID,
		Score:            final.Score,
		Rank:             final.Rank,
		Factors:          datatypes.JSON(factorsJSON),
		RuleScore:        ruleResult.Score,
		DemographicScore: result.DemographicScore,
		MLScore:          result.MLScore,
		ScoreVersion:     s.scoreVersion,
		ScoredBy:         scoredBy,
	}
	if err := s.history.AppendScoreHistory(ctx, entry); err != nil {
		log.Warn("Failed to append score history", zap.Error(err))
		observer.IncSoftFailure("score_history")
	}

	observer.IncLeadScored(string(final.Rank), final.UsedML)
	log.Info("Lead scored", zap.Int("score", final.Score), zap.String("rank", string(final.Rank)))
	return result, nil
}

// resolveEnrichment reuses stored demographics unless missing or a refresh is requested.
// A failed refresh falls back to whatever is stored.
func (s *Service) resolveEnrichment(ctx context.Context, lead *model.Lead, refresh bool) *model.EnrichmentRecord {
	stored := lead.Enrichment()
	if stored != nil && !refresh {
		return stored
	}
	if s.enricher == nil {
		return stored
	}

	rec := s.enricher.Enrich(ctx, lead.PostalCode)
	if rec == nil {
		return stored
	}
	if err := s.leads.SaveLeadEnrichment(ctx, lead.ID, *rec, s.now()); err != nil {
		logger.FromContext(ctx).Warn("Failed to store enrichment on lead", zap.String("lead_id", lead.ID), zap.Error(err))
		observer.IncSoftFailure("enrichment_write")
	}
	return rec
}
