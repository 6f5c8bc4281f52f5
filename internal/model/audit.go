package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AssignmentLog is an append-only record of one ownership change.
type AssignmentLog struct {
	ID              string         `json:"id" gorm:"type:uuid;primaryKey"`
	LeadID          string         `json:"lead_id" gorm:"type:uuid;index"`
	RuleID          *string        `json:"rule_id,omitempty" gorm:"type:uuid"`
	PreviousOwnerID *string        `json:"previous_owner_id,omitempty" gorm:"type:uuid"`
	NewOwnerID      string         `json:"new_owner_id" gorm:"type:uuid"`
	AssignmentType  AssignmentType `json:"assignment_type"`
	AssignedByID    string         `json:"assigned_by_id"`
	Reason          string         `json:"reason,omitempty"`
	// MatchedCriteria snapshots the rule filters and conditions that matched.
	MatchedCriteria datatypes.JSON `json:"matched_criteria,omitempty" gorm:"type:jsonb"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (AssignmentLog) TableName() string { return "lead_assignment_logs" }

func (l *AssignmentLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// ScoreHistory is an append-only snapshot of one scoring run.
type ScoreHistory struct {
	ID               string         `json:"id" gorm:"type:uuid;primaryKey"`
	LeadID           string         `json:"lead_id" gorm:"type:uuid;index"`
	Score            int            `json:"score"`
	Rank             Rank           `json:"rank" gorm:"type:varchar(1)"`
	Factors          datatypes.JSON `json:"factors" gorm:"type:jsonb"`
	RuleScore        int            `json:"rule_score"`
	DemographicScore *int           `json:"demographic_score,omitempty"`
	MLScore          *int           `json:"ml_score,omitempty"`
	ScoreVersion     string         `json:"score_version"`
	ScoredBy         string         `json:"scored_by"`
	CreatedAt        time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (ScoreHistory) TableName() string { return "lead_score_history" }

func (h *ScoreHistory) BeforeCreate(*gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}
