package scoring

import (
	"math"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
)

const (
	// DefaultRuleMaxRawScore is the assumed maximum raw rule score. Tunable.
	DefaultRuleMaxRawScore = 150.0
	// DefaultDemographicMaxRawScore is the sum of every top-tier demographic contribution.
	DefaultDemographicMaxRawScore = 85.0
)

// Result is one sub-score.
type Result struct {
	Score    int            `json:"score"`
	RawScore int            `json:"raw_score"`
	Factors  []model.Factor `json:"factors"`
	// Available is false when the input was missing, e.g. no enrichment.
	Available bool `json:"available"`
}

// RuleScorer sums the impacts of firing scoring rules and normalizes the total.
type RuleScorer struct {
	// Divisor is the raw score that maps to 100.
	Divisor float64
	// DeriveDivisor uses the rule set's positive impact sum instead of Divisor.
	DeriveDivisor bool
}

// Score evaluates every rule in order. Deterministic for a given lead and rule set.
func (s RuleScorer) Score(lead *model.Lead, rs *rulestore.RuleSet) Result {
	res := Result{Available: true, Factors: []model.Factor{}}
	if rs == nil {
		return res
	}
	for _, rule := range rs.Scoring {
		if !rule.Matches(lead) {
			continue
		}
		res.RawScore += rule.Impact
		res.Factors = append(res.Factors, model.Factor{
			Name:     rule.Name,
			Impact:   rule.Impact,
			Category: rule.Category,
			Field:    rule.Field.String(),
		})
	}
	res.Score = normalize(float64(res.RawScore), s.divisor(rs))
	return res
}

func (s RuleScorer) divisor(rs *rulestore.RuleSet) float64 {
	if s.DeriveDivisor && rs.MaxRawScore > 0 {
		return float64(rs.MaxRawScore)
	}
	if s.Divisor > 0 {
		return s.Divisor
	}
	return DefaultRuleMaxRawScore
}

// normalize maps raw onto 0..100 against divisor.
func normalize(raw, divisor float64) int {
	return clamp(jsRound(raw/divisor*100), 0, 100)
}

// jsRound rounds half up, so -2.5 becomes -2.
func jsRound(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
