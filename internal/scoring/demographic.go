package scoring

import (
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

type tier struct {
	min    float64
	points int
	label  string
}

type dimension struct {
	name  string
	field string
	get   func(r *model.EnrichmentRecord) *float64
	// tiers are ordered from highest threshold down; only the first hit counts.
	tiers []tier
}

var dimensions = []dimension{
	{
		name:  "Median household income",
		field: "medianHouseholdIncome",
		get:   func(r *model.EnrichmentRecord) *float64 { return r.MedianHouseholdIncome },
		tiers: []tier{{150000, 25, "150k+"}, {100000, 20, "100k+"}, {75000, 15, "75k+"}, {50000, 10, "50k+"}},
	},
	{
		name:  "Median home value",
		field: "medianHomeValue",
		get:   func(r *model.EnrichmentRecord) *float64 { return r.MedianHomeValue },
		tiers: []tier{{500000, 25, "500k+"}, {350000, 20, "350k+"}, {250000, 15, "250k+"}, {150000, 10, "150k+"}},
	},
	{
		name:  "Homeownership rate",
		field: "homeownershipRate",
		get:   func(r *model.EnrichmentRecord) *float64 { return r.HomeownershipRate },
		tiers: []tier{{80, 20, "80%+"}, {70, 15, "70%+"}, {60, 10, "60%+"}, {50, 5, "50%+"}},
	},
	{
		name:  "Median age",
		field: "medianAge",
		get:   func(r *model.EnrichmentRecord) *float64 { return r.MedianAge },
		tiers: []tier{{45, 15, "45+"}, {35, 10, "35+"}, {25, 5, "25+"}},
	},
}

// DemographicScorer converts enrichment statistics into a bounded sub-score.
type DemographicScorer struct {
	Divisor float64
}

// Score is pure. A nil or empty record yields a zero, unavailable result.
func (s DemographicScorer) Score(rec *model.EnrichmentRecord) Result {
	res := Result{Factors: []model.Factor{}}
	if rec.Empty() {
		return res
	}
	res.Available = true

	for _, dim := range dimensions {
		v := dim.get(rec)
		if v == nil {
			continue
		}
		for _, t := range dim.tiers {
			if *v >= t.min {
				res.RawScore += t.points
				res.Factors = append(res.Factors, model.Factor{
					Name:     dim.name + " " + t.label,
					Impact:   t.points,
					Category: "demographic",
					Field:    dim.field,
				})
				break
			}
		}
	}

	divisor := s.Divisor
	if divisor <= 0 {
		divisor = DefaultDemographicMaxRawScore
	}
	res.Score = normalize(float64(res.RawScore), divisor)
	return res
}
