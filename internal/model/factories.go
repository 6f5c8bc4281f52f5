package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

var (
	fakeWorkTypes    = []string{"Roof Replacement", "Roof Repair", "Gutters", "Siding", "Inspection"}
	fakeLeadSources  = []string{"Web", "Door Knock", "Referral", "Storm Canvass", "Home Show"}
	fakePropertyType = []string{"Residential", "Commercial", "Multi-Family"}
	fakeStates       = []string{"PA", "NJ", "DE", "MD", "VA", "NY"}
)

// JSONValue marshals v into a datatypes.JSON, for test fixtures.
func JSONValue(v interface{}) datatypes.JSON {
	return datatypes.JSON(utils.MustMarshalJSON(v))
}

// NewLead creates a Lead with fake identity data. Non-zero override fields replace the defaults.
func NewLead(overrideDefaults ...*Lead) *Lead {
	base := &Lead{
		ID:           gofakeit.UUID(),
		FirstName:    gofakeit.FirstName(),
		LastName:     gofakeit.LastName(),
		Email:        gofakeit.Email(),
		Phone:        gofakeit.Phone(),
		Street:       gofakeit.Street(),
		City:         gofakeit.City(),
		State:        gofakeit.RandomString(fakeStates),
		PostalCode:   gofakeit.Zip(),
		WorkType:     gofakeit.RandomString(fakeWorkTypes),
		PropertyType: gofakeit.RandomString(fakePropertyType),
		Stage:        "NEW",
		Status:       "NEW",
		LeadSource:   gofakeit.RandomString(fakeLeadSources),
		CreatedAt:    utils.Now().Add(-time.Duration(gofakeit.Number(1, 72)) * time.Hour),
		UpdatedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.WorkType != "" {
			base.WorkType = ovr.WorkType
		}
		if ovr.Stage != "" {
			base.Stage = ovr.Stage
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.LeadSource != "" {
			base.LeadSource = ovr.LeadSource
		}
		if ovr.State != "" {
			base.State = ovr.State
		}
		if ovr.PostalCode != "" {
			base.PostalCode = ovr.PostalCode
		}
		if ovr.PropertyType != "" {
			base.PropertyType = ovr.PropertyType
		}
		base.IsSelfGen = ovr.IsSelfGen
		base.AccountID = ovr.AccountID
		base.OwnerID = ovr.OwnerID
		base.MedianHouseholdIncome = ovr.MedianHouseholdIncome
		base.MedianHomeValue = ovr.MedianHomeValue
		base.HomeownershipRate = ovr.HomeownershipRate
		base.MedianAge = ovr.MedianAge
		base.EnrichedAt = ovr.EnrichedAt
	}
	return base
}

// NewUser creates an active User with fake identity data.
func NewUser(overrideDefaults ...*User) *User {
	base := &User{
		ID:          gofakeit.UUID(),
		FirstName:   gofakeit.FirstName(),
		LastName:    gofakeit.LastName(),
		Email:       gofakeit.Email(),
		IsActive:    true,
		IsAvailable: true,
		CreatedAt:   utils.Now().Add(-30 * 24 * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		base.IsActive = ovr.IsActive
		base.IsAvailable = ovr.IsAvailable
		base.RoundRobinGroup = ovr.RoundRobinGroup
		base.LastLeadAssignedAt = ovr.LastLeadAssignedAt
	}
	return base
}

// NewScoringRule creates an active equals rule on leadSource.
func NewScoringRule(overrideDefaults ...*ScoringRule) *ScoringRule {
	base := &ScoringRule{
		ID:          gofakeit.UUID(),
		Name:        gofakeit.BuzzWord() + " rule",
		Field:       "leadSource",
		Operator:    "equals",
		Value:       JSONValue(gofakeit.RandomString(fakeLeadSources)),
		ScoreImpact: gofakeit.Number(5, 30),
		Category:    "source",
		IsActive:    true,
		CreatedAt:   utils.Now().Add(-time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Field != "" {
			base.Field = ovr.Field
		}
		if ovr.Operator != "" {
			base.Operator = ovr.Operator
		}
		if ovr.Value != nil {
			base.Value = ovr.Value
		}
		if ovr.Category != "" {
			base.Category = ovr.Category
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		base.ScoreImpact = ovr.ScoreImpact
		base.Priority = ovr.Priority
	}
	return base
}

// NewAssignmentRule creates an active round-robin rule with no filters.
func NewAssignmentRule(overrideDefaults ...*AssignmentRule) *AssignmentRule {
	base := &AssignmentRule{
		ID:              gofakeit.UUID(),
		Name:            gofakeit.BuzzWord() + " routing",
		AssignmentType:  AssignRoundRobin,
		RoundRobinGroup: "default",
		IsActive:        true,
		CreatedAt:       utils.Now().Add(-time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.AssignmentType != "" {
			base.AssignmentType = ovr.AssignmentType
		}
		if ovr.RoundRobinGroup != "" {
			base.RoundRobinGroup = ovr.RoundRobinGroup
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		base.WorkType = ovr.WorkType
		base.Stage = ovr.Stage
		base.Status = ovr.Status
		base.LeadSource = ovr.LeadSource
		base.State = ovr.State
		base.Conditions = ovr.Conditions
		base.AssignToUserID = ovr.AssignToUserID
		base.AssignToTeamID = ovr.AssignToTeamID
		base.SetStatus = ovr.SetStatus
		base.Priority = ovr.Priority
		base.AutoCreateOpportunity = ovr.AutoCreateOpportunity
		base.DefaultOpportunityStage = ovr.DefaultOpportunityStage
		base.NotifyAssignee = ovr.NotifyAssignee
	}
	return base
}
