package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// InTx runs fn in a transaction and commits when it returns nil. The whole
// closure is retried with backoff on claim conflicts and transient failures.
func (r *PostgresRepo) InTx(ctx context.Context, fn func(ctx context.Context, store AssignmentStore) error) error {
	attempt := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		if txErr = fn(ctx, &txStore{tx: tx}); txErr != nil {
			return txErr
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	notify := func(err error, d time.Duration) {
		if errors.Is(err, apperrors.ErrConflict) {
			observer.IncClaimConflict()
		}
		logger.FromContext(ctx).Warn("Retrying transaction", zap.Error(err), zap.Duration("after", d))
	}

	policy := newRetryPolicy(ctx, r.txMaxElapsed)
	startTime := utils.Now()
	err := backoff.RetryNotify(func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrConflict) || isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
	observer.ObserveDbOperationDuration("transaction", "assignment", time.Since(startTime), err)
	return err
}

// txStore implements AssignmentStore on an open transaction.
type txStore struct {
	tx *gorm.DB
}

func (s *txStore) LockLead(ctx context.Context, leadID string) (*model.Lead, error) {
	if err := checkID("lead", leadID); err != nil {
		return nil, err
	}
	var lead model.Lead
	err := s.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", leadID).
		First(&lead).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &lead, nil
}

func (s *txStore) FindActiveUser(ctx context.Context, userID string) (*model.User, error) {
	if err := checkID("user", userID); err != nil {
		return nil, err
	}
	var user model.User
	err := s.tx.WithContext(ctx).
		Where("id = ? AND is_active = ?", userID, true).
		First(&user).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &user, nil
}

// ListRoundRobinUsers returns active users in group, or every active user when group is empty.
func (s *txStore) ListRoundRobinUsers(ctx context.Context, group string) ([]model.User, error) {
	var users []model.User
	q := s.tx.WithContext(ctx).Where("is_active = ?", true)
	if group != "" {
		q = q.Where("round_robin_group = ?", group)
	}
	err := q.Order("last_lead_assigned_at ASC NULLS FIRST").Order("id ASC").Find(&users).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return users, nil
}

func (s *txStore) ListAvailableUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.tx.WithContext(ctx).
		Where("is_active = ? AND is_available = ?", true, true).
		Order("last_lead_assigned_at ASC NULLS FIRST").Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return users, nil
}

// ListTeamMemberLoads counts, per active member of an active team, the
// unconverted leads they own whose status is not terminal.
func (s *txStore) ListTeamMemberLoads(ctx context.Context, teamID string, terminalStatuses []string) ([]UserLoad, error) {
	var loads []UserLoad
	q := s.tx.WithContext(ctx).
		Table("users").
		Select("users.*, COUNT(leads.id) AS open_leads").
		Joins("JOIN team_members ON team_members.user_id = users.id").
		Joins("JOIN teams ON teams.id = team_members.team_id AND teams.is_active = ?", true)
	if len(terminalStatuses) > 0 {
		q = q.Joins("LEFT JOIN leads ON leads.owner_id = users.id AND leads.is_converted = ? AND leads.status NOT IN ?", false, terminalStatuses)
	} else {
		q = q.Joins("LEFT JOIN leads ON leads.owner_id = users.id AND leads.is_converted = ?", false)
	}
	err := q.Where("team_members.team_id = ? AND users.is_active = ?", teamID, true).
		Group("users.id").
		Scan(&loads).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return loads, nil
}

func (s *txStore) FindActiveTerritory(ctx context.Context, state string) (*model.Territory, error) {
	var territory model.Territory
	err := s.tx.WithContext(ctx).
		Where("upper(state) = upper(?) AND is_active = ?", state, true).
		Order("created_at ASC").
		First(&territory).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &territory, nil
}

func (s *txStore) ClaimUser(ctx context.Context, userID string, prev *time.Time, now time.Time) error {
	q := s.tx.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID)
	if prev == nil {
		q = q.Where("last_lead_assigned_at IS NULL")
	} else {
		q = q.Where("last_lead_assigned_at = ?", *prev)
	}
	res := q.Updates(map[string]interface{}{
		"last_lead_assigned_at": now,
		"updated_at":            now,
	})
	if res.Error != nil {
		return checkConstraintViolation(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s was claimed concurrently", apperrors.ErrConflict, userID)
	}
	return nil
}

func (s *txStore) CreateOpportunity(ctx context.Context, opportunity *model.Opportunity) error {
	if err := s.tx.WithContext(ctx).Create(opportunity).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func (s *txStore) UpdateLeadOwnership(ctx context.Context, leadID string, update Ownership) error {
	updates := map[string]interface{}{
		"owner_id":           update.OwnerID,
		"assigned_at":        update.AssignedAt,
		"assigned_by_id":     update.AssignedByID,
		"assignment_rule_id": update.RuleID,
		"updated_at":         update.AssignedAt,
	}
	if update.Status != "" {
		updates["status"] = update.Status
	}
	if update.OpportunityID != nil {
		updates["opportunity_id"] = update.OpportunityID
	}

	res := s.tx.WithContext(ctx).Model(&model.Lead{}).Where("id = ?", leadID).Updates(updates)
	if res.Error != nil {
		return checkConstraintViolation(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
	}
	return nil
}

func (s *txStore) CreateAssignmentLog(ctx context.Context, entry *model.AssignmentLog) error {
	if err := s.tx.WithContext(ctx).Create(entry).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}
