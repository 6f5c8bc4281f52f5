package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Opportunity is the minimal follow-on sales record created from an assigned lead.
type Opportunity struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name"`
	LeadID    string    `json:"lead_id" gorm:"type:uuid;index"`
	AccountID *string   `json:"account_id,omitempty" gorm:"type:uuid"`
	OwnerID   string    `json:"owner_id" gorm:"type:uuid"`
	Stage     string    `json:"stage"`
	WorkType  string    `json:"work_type,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Opportunity) TableName() string { return "opportunities" }

func (o *Opportunity) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// NotificationLeadAssigned is the notification type written on assignment.
const NotificationLeadAssigned = "LEAD_ASSIGNED"

// Notification is an in-app message for a user.
type Notification struct {
	ID        string         `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string         `json:"user_id" gorm:"type:uuid;index"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      datatypes.JSON `json:"data,omitempty" gorm:"type:jsonb"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
