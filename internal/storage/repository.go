package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

// LeadRepo defines lead storage operations
type LeadRepo interface {
	FindLeadByID(ctx context.Context, leadID string) (*model.Lead, error)
	SaveLeadScore(ctx context.Context, leadID string, score LeadScore) error
	SaveLeadEnrichment(ctx context.Context, leadID string, record model.EnrichmentRecord, enrichedAt time.Time) error
	// ListUnscoredLeadIDs pages through unconverted leads with no score, ordered by id.
	ListUnscoredLeadIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// ScoreHistoryRepo defines score history storage operations
type ScoreHistoryRepo interface {
	AppendScoreHistory(ctx context.Context, entry model.ScoreHistory) error
}

// RuleRepo loads active rules. Ordering is applied by the caller.
type RuleRepo interface {
	ListActiveScoringRules(ctx context.Context) ([]model.ScoringRule, error)
	ListActiveAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error)
}

// SettingsRepo defines system toggle storage operations
type SettingsRepo interface {
	// FindSettings returns the rows that exist among keys.
	FindSettings(ctx context.Context, keys []string) (map[string]bool, error)
	UpsertSetting(ctx context.Context, setting model.SystemSetting) error
}

// NotificationRepo defines in-app notification storage operations
type NotificationRepo interface {
	CreateNotification(ctx context.Context, notification *model.Notification) error
}

// AssignmentStore is the transaction-scoped view used while assigning a lead.
// Its methods do not retry; the enclosing InTx retries the whole unit.
type AssignmentStore interface {
	LockLead(ctx context.Context, leadID string) (*model.Lead, error)
	FindActiveUser(ctx context.Context, userID string) (*model.User, error)
	ListRoundRobinUsers(ctx context.Context, group string) ([]model.User, error)
	ListAvailableUsers(ctx context.Context) ([]model.User, error)
	ListTeamMemberLoads(ctx context.Context, teamID string, terminalStatuses []string) ([]UserLoad, error)
	FindActiveTerritory(ctx context.Context, state string) (*model.Territory, error)
	// ClaimUser advances the user's LastLeadAssignedAt if it still equals prev.
	// A concurrent claim makes it return apperrors.ErrConflict.
	ClaimUser(ctx context.Context, userID string, prev *time.Time, now time.Time) error
	CreateOpportunity(ctx context.Context, opportunity *model.Opportunity) error
	UpdateLeadOwnership(ctx context.Context, leadID string, update Ownership) error
	CreateAssignmentLog(ctx context.Context, entry *model.AssignmentLog) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, store AssignmentStore) error) error
}

// LeadScore is the current-score write on a lead. Score and ScoredAt travel together.
type LeadScore struct {
	Score        int
	Rank         model.Rank
	Factors      datatypes.JSON
	ScoredAt     time.Time
	ScoreVersion string
}

// Ownership is the ownership write on a lead. RuleID is always written, so a
// manual assignment clears it. Empty Status and nil OpportunityID leave columns untouched.
type Ownership struct {
	OwnerID       string
	AssignedByID  string
	AssignedAt    time.Time
	RuleID        *string
	Status        string
	OpportunityID *string
}

// UserLoad is a team member with the number of open leads they own.
type UserLoad struct {
	model.User
	OpenLeads int64 `gorm:"column:open_leads"`
}
