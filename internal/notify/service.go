package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

const SubjectLeadAssigned = "lead.assigned"

// Publisher sends an event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// LeadAssignedNotice describes a completed assignment.
type LeadAssignedNotice struct {
	LeadID         string               `json:"lead_id"`
	LeadName       string               `json:"lead_name"`
	AssigneeID     string               `json:"assignee_id"`
	AssignedByID   string               `json:"assigned_by_id"`
	AssignmentType model.AssignmentType `json:"assignment_type"`
	RuleID         string               `json:"rule_id,omitempty"`
	RuleName       string               `json:"rule_name,omitempty"`
	OpportunityID  string               `json:"opportunity_id,omitempty"`
	AssignedAt     time.Time            `json:"assigned_at"`
}

// Service delivers assignment notices in-app and on the event bus.
type Service struct {
	repo          storage.NotificationRepo
	publisher     Publisher
	subjectPrefix string
}

// NewService builds a notifier. publisher may be nil when NATS is not configured.
func NewService(repo storage.NotificationRepo, publisher Publisher, subjectPrefix string) *Service {
	return &Service{repo: repo, publisher: publisher, subjectPrefix: subjectPrefix}
}

// Subject returns the full subject for an event name.
func (s *Service) Subject(event string) string {
	if s.subjectPrefix == "" {
		return event
	}
	return s.subjectPrefix + "." + event
}

// NotifyLeadAssigned writes the in-app notification and publishes the event.
// Only the notification write can fail the call; publish errors are logged.
func (s *Service) NotifyLeadAssigned(ctx context.Context, notice LeadAssignedNotice) error {
	log := logger.FromContext(ctx).With(zap.String("lead_id", notice.LeadID), zap.String("assignee_id", notice.AssigneeID))

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	notification := &model.Notification{
		UserID:  notice.AssigneeID,
		Type:    model.NotificationLeadAssigned,
		Title:   "New lead assigned",
		Message: fmt.Sprintf("%s has been assigned to you", notice.LeadName),
		Data:    datatypes.JSON(data),
	}
	if err := s.repo.CreateNotification(ctx, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	headers := map[string]string{"Nats-Msg-Id": fmt.Sprintf("%s-%s-%d", notice.LeadID, notice.AssigneeID, notice.AssignedAt.UnixNano())}
	if requestID, err := actor.FromRequestIDContext(ctx); err == nil {
		headers["X-Request-Id"] = requestID
	}
	if err := s.publisher.Publish(ctx, s.Subject(SubjectLeadAssigned), data, headers); err != nil {
		log.Warn("Failed to publish lead assigned event", zap.Error(err))
		observer.IncSoftFailure("event_publish")
		return nil
	}
	log.Debug("Lead assigned event published")
	return nil
}
