package storage

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// --- Rule Repository Methods ---

func (r *PostgresRepo) ListActiveScoringRules(ctx context.Context) ([]model.ScoringRule, error) {
	var rules []model.ScoringRule
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("priority DESC").Order("created_at ASC").Order("id ASC").
			Find(&rules).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "ListActiveScoringRules", operation)
	observer.ObserveDbOperationDuration("list_active", "scoring_rule", time.Since(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return rules, nil
}

func (r *PostgresRepo) ListActiveAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error) {
	var rules []model.AssignmentRule
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("priority DESC").Order("created_at ASC").Order("id ASC").
			Find(&rules).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "ListActiveAssignmentRules", operation)
	observer.ObserveDbOperationDuration("list_active", "assignment_rule", time.Since(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return rules, nil
}

// --- Settings Repository Methods ---

// FindSettings returns the stored toggles among keys. Absent keys are omitted.
func (r *PostgresRepo) FindSettings(ctx context.Context, keys []string) (map[string]bool, error) {
	var rows []model.SystemSetting
	operation := func() error {
		return r.db.WithContext(ctx).Where("key IN ?", keys).Find(&rows).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "FindSettings", operation)
	observer.ObserveDbOperationDuration("find", "system_setting", time.Since(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}

	settings := make(map[string]bool, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Enabled
	}
	return settings, nil
}

// UpsertSetting inserts or overwrites a toggle.
func (r *PostgresRepo) UpsertSetting(ctx context.Context, setting model.SystemSetting) error {
	setting.UpdatedAt = utils.Now()
	operation := func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_by_id", "updated_at"}),
			}).
			Create(&setting).Error
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "UpsertSetting", operation)
	observer.ObserveDbOperationDuration("upsert", "system_setting", time.Since(startTime), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// --- Notification Repository Methods ---

func (r *PostgresRepo) CreateNotification(ctx context.Context, notification *model.Notification) error {
	operation := func() error {
		return r.db.WithContext(ctx).Create(notification).Error
	}

	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "CreateNotification", operation)
	observer.ObserveDbOperationDuration("create", "notification", time.Since(startTime), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}
