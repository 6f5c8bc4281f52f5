package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lead is an unconverted prospective customer record.
type Lead struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Street    string `json:"street,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty" gorm:"index"`
	// PostalCode is free-form; only the first five characters are used for enrichment.
	PostalCode   string  `json:"postal_code,omitempty"`
	WorkType     string  `json:"work_type,omitempty"`
	PropertyType string  `json:"property_type,omitempty"`
	Stage        string  `json:"stage,omitempty"`
	Status       string  `json:"status,omitempty" gorm:"index"`
	LeadSource   string  `json:"lead_source,omitempty"`
	IsSelfGen    bool    `json:"is_self_gen"`
	AccountID    *string `json:"account_id,omitempty" gorm:"type:uuid"`

	// Enrichment
	MedianHouseholdIncome *float64   `json:"median_household_income,omitempty"`
	MedianHomeValue       *float64   `json:"median_home_value,omitempty"`
	HomeownershipRate     *float64   `json:"homeownership_rate,omitempty"`
	MedianAge             *float64   `json:"median_age,omitempty"`
	CensusTract           string     `json:"census_tract,omitempty"`
	EnrichedAt            *time.Time `json:"enriched_at,omitempty"`

	// Scoring. Score and ScoredAt are always written together.
	Score        *int           `json:"score,omitempty"`
	Rank         *Rank          `json:"rank,omitempty" gorm:"type:varchar(1)"`
	ScoreFactors datatypes.JSON `json:"score_factors,omitempty" gorm:"type:jsonb"`
	ScoredAt     *time.Time     `json:"scored_at,omitempty"`
	ScoreVersion string         `json:"score_version,omitempty"`

	// Ownership
	OwnerID          *string    `json:"owner_id,omitempty" gorm:"type:uuid;index"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	AssignedByID     *string    `json:"assigned_by_id,omitempty"`
	AssignmentRuleID *string    `json:"assignment_rule_id,omitempty" gorm:"type:uuid"`
	OpportunityID    *string    `json:"opportunity_id,omitempty" gorm:"type:uuid"`

	// Conversion, set once.
	IsConverted            bool       `json:"is_converted"`
	ConvertedAccountID     *string    `json:"converted_account_id,omitempty" gorm:"type:uuid"`
	ConvertedContactID     *string    `json:"converted_contact_id,omitempty" gorm:"type:uuid"`
	ConvertedOpportunityID *string    `json:"converted_opportunity_id,omitempty" gorm:"type:uuid"`
	ConvertedAt            *time.Time `json:"converted_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Lead) TableName() string { return "leads" }

func (l *Lead) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Enrichment returns the stored demographic record, or nil if the lead was never enriched.
func (l *Lead) Enrichment() *EnrichmentRecord {
	if l.EnrichedAt == nil && l.MedianHouseholdIncome == nil && l.MedianHomeValue == nil &&
		l.HomeownershipRate == nil && l.MedianAge == nil {
		return nil
	}
	return &EnrichmentRecord{
		MedianHouseholdIncome: l.MedianHouseholdIncome,
		MedianHomeValue:       l.MedianHomeValue,
		HomeownershipRate:     l.HomeownershipRate,
		MedianAge:             l.MedianAge,
		CensusTract:           l.CensusTract,
	}
}

// DisplayName is used for notification text and opportunity names.
func (l *Lead) DisplayName() string {
	name := l.FirstName
	if l.LastName != "" {
		if name != "" {
			name += " "
		}
		name += l.LastName
	}
	if name == "" {
		name = l.Company
	}
	if name == "" {
		name = l.ID
	}
	return name
}

// EnrichmentRecord holds demographic statistics for a ZIP code tabulation area.
// Fields are nil when the upstream dataset has no value.
type EnrichmentRecord struct {
	MedianHouseholdIncome *float64 `json:"median_household_income"`
	MedianHomeValue       *float64 `json:"median_home_value"`
	HomeownershipRate     *float64 `json:"homeownership_rate"`
	MedianAge             *float64 `json:"median_age"`
	CensusTract           string   `json:"census_tract,omitempty"`
}

// Empty reports whether no statistic is available.
func (e *EnrichmentRecord) Empty() bool {
	return e == nil || (e.MedianHouseholdIncome == nil && e.MedianHomeValue == nil &&
		e.HomeownershipRate == nil && e.MedianAge == nil)
}
