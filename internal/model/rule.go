package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScoringRule is a named predicate and the signed weight added when it fires.
type ScoringRule struct {
	ID       string `json:"id" gorm:"type:uuid;primaryKey"`
	Name     string `json:"name"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	// Value is a JSON scalar or array depending on Operator.
	Value       datatypes.JSON `json:"value" gorm:"type:jsonb"`
	ScoreImpact int            `json:"score_impact"`
	Category    string         `json:"category"`
	Priority    int            `json:"priority"`
	IsActive    bool           `json:"is_active" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ScoringRule) TableName() string { return "lead_scoring_rules" }

func (r *ScoringRule) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// AssignmentType selects how an assignee is resolved.
type AssignmentType string

const (
	AssignSpecificUser AssignmentType = "SPECIFIC_USER"
	AssignRoundRobin   AssignmentType = "ROUND_ROBIN"
	AssignTeam         AssignmentType = "TEAM"
	AssignQueue        AssignmentType = "QUEUE"
	AssignTerritory    AssignmentType = "TERRITORY"
	// AssignManual is only recorded on logs written by a manual override.
	AssignManual AssignmentType = "MANUAL"
)

// AssignmentRule matches leads and names the strategy used to pick an owner.
// Empty static filters match any value.
type AssignmentRule struct {
	ID          string `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	WorkType   string `json:"work_type,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Status     string `json:"status,omitempty"`
	LeadSource string `json:"lead_source,omitempty"`
	State      string `json:"state,omitempty"`
	// Conditions is a JSON list of {field, operator, value}, AND-combined.
	Conditions datatypes.JSON `json:"conditions,omitempty" gorm:"type:jsonb"`

	AssignmentType  AssignmentType `json:"assignment_type"`
	AssignToUserID  *string        `json:"assign_to_user_id,omitempty" gorm:"type:uuid"`
	AssignToTeamID  *string        `json:"assign_to_team_id,omitempty" gorm:"type:uuid"`
	RoundRobinGroup string         `json:"round_robin_group,omitempty"`
	// SetStatus overwrites the lead status on assignment when non-empty.
	SetStatus string `json:"set_status,omitempty"`

	Priority                int    `json:"priority"`
	IsActive                bool   `json:"is_active" gorm:"index"`
	AutoCreateOpportunity   bool   `json:"auto_create_opportunity"`
	DefaultOpportunityStage string `json:"default_opportunity_stage,omitempty"`
	NotifyAssignee          bool   `json:"notify_assignee"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (AssignmentRule) TableName() string { return "lead_assignment_rules" }

func (r *AssignmentRule) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
