package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

// --- Lead Repository Methods ---

// FindLeadByID loads a lead. A missing lead maps to apperrors.ErrNotFound.
func (r *PostgresRepo) FindLeadByID(ctx context.Context, leadID string) (*model.Lead, error) {
	if err := checkID("lead", leadID); err != nil {
		return nil, err
	}
	var lead model.Lead
	operation := func() error {
		return r.db.WithContext(ctx).Where("id = ?", leadID).First(&lead).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "FindLeadByID", operation)
	observer.ObserveDbOperationDuration("find", "lead", time.Since(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &lead, nil
}

// SaveLeadScore writes the current score columns in a single statement.
func (r *PostgresRepo) SaveLeadScore(ctx context.Context, leadID string, score LeadScore) error {
	updates := map[string]interface{}{
		"score":         score.Score,
		"rank":          score.Rank,
		"score_factors": score.Factors,
		"scored_at":     score.ScoredAt,
		"score_version": score.ScoreVersion,
		"updated_at":    utils.Now(),
	}

	var rowsAffected int64
	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.Lead{}).Where("id = ?", leadID).Updates(updates)
		rowsAffected = res.RowsAffected
		return res.Error
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "SaveLeadScore", operation)
	observer.ObserveDbOperationDuration("update_score", "lead", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save lead score", zap.String("lead_id", leadID), zap.Error(err))
		return checkConstraintViolation(err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
	}
	return nil
}

// SaveLeadEnrichment stores freshly fetched demographic values on the lead.
func (r *PostgresRepo) SaveLeadEnrichment(ctx context.Context, leadID string, record model.EnrichmentRecord, enrichedAt time.Time) error {
	updates := map[string]interface{}{
		"median_household_income": record.MedianHouseholdIncome,
		"median_home_value":       record.MedianHomeValue,
		"homeownership_rate":      record.HomeownershipRate,
		"median_age":              record.MedianAge,
		"census_tract":            record.CensusTract,
		"enriched_at":             enrichedAt,
	}

	operation := func() error {
		return r.db.WithContext(ctx).Model(&model.Lead{}).Where("id = ?", leadID).Updates(updates).Error
	}

	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "SaveLeadEnrichment", operation)
	observer.ObserveDbOperationDuration("update_enrichment", "lead", time.Since(startTime), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// ListUnscoredLeadIDs returns up to limit ids greater than afterID.
func (r *PostgresRepo) ListUnscoredLeadIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	operation := func() error {
		ids = ids[:0]
		q := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("score IS NULL AND is_converted = ?", false)
		if afterID != "" {
			q = q.Where("id > ?", afterID)
		}
		return q.Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "ListUnscoredLeadIDs", operation)
	observer.ObserveDbOperationDuration("list_unscored", "lead", time.Since(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return ids, nil
}

// --- Score History Repository Methods ---

// AppendScoreHistory inserts one history row.
func (r *PostgresRepo) AppendScoreHistory(ctx context.Context, entry model.ScoreHistory) error {
	operation := func() error {
		return r.db.WithContext(ctx).Create(&entry).Error
	}

	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, "AppendScoreHistory", operation)
	observer.ObserveDbOperationDuration("create", "score_history", time.Since(startTime), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}
