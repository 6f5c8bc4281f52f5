package ingestion

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/validator"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

// LeadCreatedEvent is published by the CRM when a lead is captured.
type LeadCreatedEvent struct {
	LeadID     string `json:"lead_id" validate:"required"`
	AutoAssign bool   `json:"auto_assign"`
}

type Scorer interface {
	ScoreLead(ctx context.Context, leadID string, opts scoring.ScoreOptions) (*scoring.LeadScore, error)
}

type Assigner interface {
	AssignLead(ctx context.Context, leadID string, opts assignment.AssignOptions) (*assignment.Outcome, error)
}

// LeadCreatedHandler scores a new lead and optionally routes it.
type LeadCreatedHandler struct {
	scorer   Scorer
	assigner Assigner
}

func NewLeadCreatedHandler(scorer Scorer, assigner Assigner) *LeadCreatedHandler {
	return &LeadCreatedHandler{scorer: scorer, assigner: assigner}
}

func (h *LeadCreatedHandler) Handle(ctx context.Context, metadata *MessageMetadata, payload []byte) error {
	var evt LeadCreatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "invalid lead.created payload: %v", err)
	}
	if err := validator.Validate(evt); err != nil {
		return apperrors.NewFatal(err, "invalid lead.created payload")
	}

	log := logger.FromContext(ctx).With(zap.String("lead_id", evt.LeadID))

	score, err := h.scorer.ScoreLead(ctx, evt.LeadID, scoring.ScoreOptions{})
	if err != nil {
		return classify(err, "score lead %s", evt.LeadID)
	}
	log.Info("Scored new lead", zap.Int("score", score.Score), zap.String("rank", string(score.Rank)))

	if !evt.AutoAssign {
		return nil
	}
	outcome, err := h.assigner.AssignLead(ctx, evt.LeadID, assignment.AssignOptions{})
	if err != nil {
		return classify(err, "assign lead %s", evt.LeadID)
	}
	log.Info("Routed new lead",
		zap.Bool("assigned", outcome.Assigned),
		zap.String("assignee_id", outcome.AssigneeID),
		zap.String("reason", outcome.Reason),
	)
	return nil
}

// classify marks infrastructure failures retryable and everything caused by
// the event itself fatal.
func classify(err error, message string, args ...interface{}) error {
	if apperrors.IsNotFoundError(err) || apperrors.IsValidationError(err) || apperrors.IsBadRequestError(err) {
		return apperrors.NewFatal(err, message, args...)
	}
	return apperrors.NewRetryable(err, message, args...)
}
