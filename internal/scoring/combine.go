package scoring

import (
	"context"
	"sort"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

const DefaultTopFactors = 10

// Blend weights.
const (
	ruleWeight        = 0.6
	demographicWeight = 0.4

	mlRuleWeight        = 0.5
	mlDemographicWeight = 0.3
	mlWeight            = 0.2
)

// MLResult is a model-produced sub-score.
type MLResult struct {
	Score   int
	Factors []model.Factor
}

// MLPredictor produces an optional ML sub-score. A nil result means no prediction.
type MLPredictor interface {
	Predict(ctx context.Context, lead *model.Lead) (*MLResult, error)
}

// NoopPredictor never predicts, so scores always use the non-ML weights.
type NoopPredictor struct{}

func (NoopPredictor) Predict(context.Context, *model.Lead) (*MLResult, error) {
	return nil, nil
}

// FinalScore is the blended score and its derived rank.
type FinalScore struct {
	Score      int            `json:"score"`
	Rank       model.Rank     `json:"rank"`
	UsedML     bool           `json:"used_ml"`
	Factors    []model.Factor `json:"-"`
	TopFactors []model.Factor `json:"top_factors"`
}

// Combine blends the sub-scores. An unavailable demographic result contributes zero.
func Combine(rule, demographic Result, ml *MLResult, topN int) FinalScore {
	var sum float64
	if ml != nil {
		sum = float64(rule.Score)*mlRuleWeight + float64(demographic.Score)*mlDemographicWeight + float64(ml.Score)*mlWeight
	} else {
		sum = float64(rule.Score)*ruleWeight + float64(demographic.Score)*demographicWeight
	}

	factors := make([]model.Factor, 0, len(rule.Factors)+len(demographic.Factors))
	factors = append(factors, rule.Factors...)
	factors = append(factors, demographic.Factors...)
	if ml != nil {
		factors = append(factors, ml.Factors...)
	}

	score := clamp(jsRound(sum), 0, 100)
	return FinalScore{
		Score:      score,
		Rank:       model.RankForScore(score),
		UsedML:     ml != nil,
		Factors:    factors,
		TopFactors: TopFactors(factors, topN),
	}
}

// TopFactors returns up to n factors by absolute impact, descending. Ties keep input order.
func TopFactors(factors []model.Factor, n int) []model.Factor {
	if n <= 0 {
		n = DefaultTopFactors
	}
	sorted := make([]model.Factor, len(factors))
	copy(sorted, factors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return abs(sorted[i].Impact) > abs(sorted[j].Impact)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
