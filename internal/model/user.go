package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a sales rep eligible to own leads.
type User struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	// IsAvailable marks a user as eligible for QUEUE assignment.
	IsAvailable     bool   `json:"is_available"`
	RoundRobinGroup string `json:"round_robin_group,omitempty" gorm:"index"`
	// LastLeadAssignedAt orders rotation; nil sorts first.
	LastLeadAssignedAt *time.Time `json:"last_lead_assigned_at,omitempty" gorm:"index"`
	CreatedAt          time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Team groups users for load-balanced assignment.
type Team struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Team) TableName() string { return "teams" }

// TeamMember joins users to teams.
type TeamMember struct {
	TeamID string `json:"team_id" gorm:"type:uuid;primaryKey"`
	UserID string `json:"user_id" gorm:"type:uuid;primaryKey"`
}

func (TeamMember) TableName() string { return "team_members" }

// Territory maps a state to its owning rep.
type Territory struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name"`
	State     string    `json:"state" gorm:"index"`
	OwnerID   string    `json:"owner_id" gorm:"type:uuid"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Territory) TableName() string { return "territories" }

// Setting keys.
const (
	SettingAutoAssignmentEnabled = "auto_assignment_enabled"
	SettingRoundRobinEnabled     = "round_robin_enabled"
)

// SystemSetting is a process-wide boolean toggle. A missing row means enabled.
type SystemSetting struct {
	Key         string    `json:"key" gorm:"primaryKey"`
	Enabled     bool      `json:"enabled"`
	UpdatedByID string    `json:"updated_by_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SystemSetting) TableName() string { return "system_settings" }
