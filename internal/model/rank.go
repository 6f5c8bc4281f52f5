package model

// Rank is the letter grade derived from a lead score.
type Rank string

const (
	RankA Rank = "A"
	RankB Rank = "B"
	RankC Rank = "C"
	RankD Rank = "D"
	RankF Rank = "F"
)

// RankForScore maps a 0..100 score to its rank. It is the only place ranks are derived.
func RankForScore(score int) Rank {
	switch {
	case score >= 80:
		return RankA
	case score >= 60:
		return RankB
	case score >= 40:
		return RankC
	case score >= 20:
		return RankD
	default:
		return RankF
	}
}

// Factor is a named, signed contribution to a score.
type Factor struct {
	Name     string `json:"name"`
	Impact   int    `json:"impact"`
	Category string `json:"category"`
	Field    string `json:"field,omitempty"`
}
