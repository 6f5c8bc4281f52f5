package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/notify"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rules"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/settings"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/validator"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// Not-assigned reasons.
const (
	ReasonAutoAssignmentDisabled = "auto-assignment disabled globally"
	ReasonNoMatchingRule         = "no matching rule"
	ReasonNoAssignee             = "could not determine assignee"
	ReasonRoundRobinDisabled     = "round-robin disabled globally"
)

const DefaultOpportunityStage = "Qualification"

// RuleSource supplies the current compiled rule set.
type RuleSource interface {
	Get(ctx context.Context) (*rulestore.RuleSet, error)
}

// SettingsSource reads the global toggles once per call.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Notifier tells an assignee about a new lead.
type Notifier interface {
	NotifyLeadAssigned(ctx context.Context, notice notify.LeadAssignedNotice) error
}

type Config struct {
	// TerminalStatuses do not count towards a team member's open leads.
	TerminalStatuses        []string
	DefaultOpportunityStage string
}

// AssignOptions control a rule-driven assignment.
type AssignOptions struct {
	// Force bypasses the global auto-assignment toggle.
	Force   bool   `json:"force"`
	ActorID string `json:"actor_id,omitempty"`
}

// ManualAssignRequest sets ownership directly, without rules.
type ManualAssignRequest struct {
	LeadID  string `json:"lead_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

// Outcome is the terminal state of one assignment attempt. Expected negative
// paths are reported through Reason, never as errors.
type Outcome struct {
	LeadID          string               `json:"lead_id"`
	Assigned        bool                 `json:"assigned"`
	Reason          string               `json:"reason,omitempty"`
	AssigneeID      string               `json:"assignee_id,omitempty"`
	PreviousOwnerID string               `json:"previous_owner_id,omitempty"`
	RuleID          string               `json:"rule_id,omitempty"`
	RuleName        string               `json:"rule_name,omitempty"`
	AssignmentType  model.AssignmentType `json:"assignment_type,omitempty"`
	OpportunityID   string               `json:"opportunity_id,omitempty"`
	AssignedAt      *time.Time           `json:"assigned_at,omitempty"`
}

func notAssigned(leadID, reason string) *Outcome {
	return &Outcome{LeadID: leadID, Reason: reason}
}

// Engine routes leads to owners.
type Engine struct {
	tx       storage.Transactor
	rules    RuleSource
	settings SettingsSource
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine. notifier may be nil.
func NewEngine(tx storage.Transactor, rules RuleSource, settings SettingsSource, notifier Notifier, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultOpportunityStage == "" {
		cfg.DefaultOpportunityStage = DefaultOpportunityStage
	}
	e := &Engine{
		tx:       tx,
		rules:    rules,
		settings: settings,
		notifier: notifier,
		cfg:      cfg,
		now:      utils.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pending carries what the transaction decided to the post-commit side effects.
type pending struct {
	outcome *Outcome
	lead    *model.Lead
	notify  bool
	actorID string
}

// AssignLead runs gate, rule match, assignee resolution and commit for one lead.
// Rule matching through commit happens in one transaction; a lost claim on the
// chosen rep rolls it back and the whole attempt is retried by the transactor.
func (e *Engine) AssignLead(ctx context.Context, leadID string, opts AssignOptions) (*Outcome, error) {
	log := logger.FromContext(ctx).With(zap.String("lead_id", leadID))

	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.AutoAssignmentEnabled && !opts.Force {
		return e.finish(ctx, nil, notAssigned(leadID, ReasonAutoAssignmentDisabled)), nil
	}

	rs, err := e.rules.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("rule set: %w", err)
	}

	actorID := opts.ActorID
	if actorID == "" {
		actorID = actor.OrSystem(ctx)
	}

	var result pending
	err = e.tx.InTx(ctx, func(ctx context.Context, store storage.AssignmentStore) error {
		result = pending{actorID: actorID}

		lead, err := store.LockLead(ctx, leadID)
		if err != nil {
			return err
		}
		result.lead = lead

		rule, ok := firstMatch(rs.Assignment, lead)
		if !ok {
			result.outcome = notAssigned(leadID, ReasonNoMatchingRule)
			return nil
		}
		if rule.AssignmentType == model.AssignRoundRobin && !snap.RoundRobinEnabled {
			result.outcome = notAssigned(leadID, ReasonRoundRobinDisabled)
			result.outcome.RuleID, result.outcome.RuleName = rule.ID, rule.Name
			return nil
		}

		assignee, err := e.resolveAssignee(ctx, store, rule, lead)
		if err != nil {
			return err
		}
		if assignee == nil {
			result.outcome = notAssigned(leadID, ReasonNoAssignee)
			result.outcome.RuleID, result.outcome.RuleName = rule.ID, rule.Name
			result.outcome.AssignmentType = rule.AssignmentType
			return nil
		}

		now := e.now()
		if claimsRotation(rule.AssignmentType) {
			if err := store.ClaimUser(ctx, assignee.ID, assignee.LastLeadAssignedAt, now); err != nil {
				return err
			}
		}

		outcome, err := e.commit(ctx, store, lead, assignee.ID, &rule, actorID, now, "")
		if err != nil {
			return err
		}
		result.outcome = outcome
		result.notify = rule.NotifyAssignee
		return nil
	})
	if err != nil {
		log.Error("Assignment failed", zap.Error(err))
		return nil, err
	}
	return e.finish(ctx, &result, result.outcome), nil
}

// ManualAssign bypasses rule matching. The target user must be active.
func (e *Engine) ManualAssign(ctx context.Context, req ManualAssignRequest) (*Outcome, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	actorID := req.ActorID
	if actorID == "" {
		actorID = actor.OrSystem(ctx)
	}

	var outcome *Outcome
	err := e.tx.InTx(ctx, func(ctx context.Context, store storage.AssignmentStore) error {
		lead, err := store.LockLead(ctx, req.LeadID)
		if err != nil {
			return err
		}
		user, err := store.FindActiveUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		outcome, err = e.commit(ctx, store, lead, user.ID, nil, actorID, e.now(), req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, nil, outcome), nil
}

// commit writes the optional opportunity, the ownership change and the log row.
// rule is nil for manual assignments.
func (e *Engine) commit(ctx context.Context, store storage.AssignmentStore, lead *model.Lead, ownerID string, rule *rules.AssignmentRule, actorID string, now time.Time, reason string) (*Outcome, error) {
	outcome := &Outcome{
		LeadID:         lead.ID,
		Assigned:       true,
		AssigneeID:     ownerID,
		AssignmentType: model.AssignManual,
		AssignedAt:     &now,
	}
	if lead.OwnerID != nil {
		outcome.PreviousOwnerID = *lead.OwnerID
	}

	ownership := storage.Ownership{OwnerID: ownerID, AssignedByID: actorID, AssignedAt: now}
	var criteria datatypes.JSON
	if rule != nil {
		ruleID := rule.ID
		ownership.RuleID = &ruleID
		ownership.Status = rule.SetStatus
		outcome.RuleID, outcome.RuleName, outcome.AssignmentType = rule.ID, rule.Name, rule.AssignmentType

		if rule.AutoCreateOpportunity {
			opp := &model.Opportunity{
				ID:        uuid.NewString(),
				Name:      opportunityName(lead),
				LeadID:    lead.ID,
				AccountID: lead.AccountID,
				OwnerID:   ownerID,
				Stage:     rule.DefaultOpportunityStage,
				WorkType:  lead.WorkType,
			}
			if opp.Stage == "" {
				opp.Stage = e.cfg.DefaultOpportunityStage
			}
			if err := store.CreateOpportunity(ctx, opp); err != nil {
				return nil, err
			}
			ownership.OpportunityID = &opp.ID
			outcome.OpportunityID = opp.ID
		}

		raw, err := json.Marshal(rule.Criteria())
		if err != nil {
			return nil, fmt.Errorf("marshal criteria: %w", err)
		}
		criteria = datatypes.JSON(raw)
	}

	if err := store.UpdateLeadOwnership(ctx, lead.ID, ownership); err != nil {
		return nil, err
	}
	if err := store.CreateAssignmentLog(ctx, &model.AssignmentLog{
		ID:              uuid.NewString(),
		LeadID:          lead.ID,
		RuleID:          ownership.RuleID,
		PreviousOwnerID: lead.OwnerID,
		NewOwnerID:      ownerID,
		AssignmentType:  outcome.AssignmentType,
		AssignedByID:    actorID,
		Reason:          reason,
		MatchedCriteria: criteria,
		CreatedAt:       now,
	}); err != nil {
		return nil, err
	}
	return outcome, nil
}

// finish runs post-commit side effects and records the outcome.
func (e *Engine) finish(ctx context.Context, p *pending, outcome *Outcome) *Outcome {
	log := logger.FromContext(ctx).With(zap.String("lead_id", outcome.LeadID))

	if outcome.Assigned {
		log.Info("Lead assigned",
			zap.String("assignee_id", outcome.AssigneeID),
			zap.String("assignment_type", string(outcome.AssignmentType)),
			zap.String("rule_id", outcome.RuleID))
		observer.IncAssignmentOutcome("assigned", string(outcome.AssignmentType), "")
	} else {
		log.Info("Lead not assigned", zap.String("reason", outcome.Reason))
		observer.IncAssignmentOutcome("not_assigned", string(outcome.AssignmentType), outcome.Reason)
	}

	if p == nil || !p.notify || !outcome.Assigned || e.notifier == nil {
		return outcome
	}
	notice := notify.LeadAssignedNotice{
		LeadID:         outcome.LeadID,
		LeadName:       p.lead.DisplayName(),
		AssigneeID:     outcome.AssigneeID,
		AssignedByID:   p.actorID,
		AssignmentType: outcome.AssignmentType,
		RuleID:         outcome.RuleID,
		RuleName:       outcome.RuleName,
		OpportunityID:  outcome.OpportunityID,
		AssignedAt:     *outcome.AssignedAt,
	}
	if err := e.notifier.NotifyLeadAssigned(ctx, notice); err != nil {
		log.Warn("Failed to notify assignee", zap.Error(err))
		observer.IncSoftFailure("notification")
	}
	return outcome
}

// firstMatch returns the first rule in precedence order that matches lead.
func firstMatch(ordered []rules.AssignmentRule, lead *model.Lead) (rules.AssignmentRule, bool) {
	for _, r := range ordered {
		if r.Matches(lead) {
			return r, true
		}
	}
	return rules.AssignmentRule{}, false
}

func opportunityName(lead *model.Lead) string {
	if lead.WorkType == "" {
		return lead.DisplayName()
	}
	return lead.DisplayName() + " - " + lead.WorkType
}
