package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
)

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) FindLeadByID(ctx context.Context, leadID string) (*model.Lead, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) SaveLeadScore(ctx context.Context, leadID string, score storage.LeadScore) error {
	args := m.Called(ctx, leadID, score)
	return args.Error(0)
}

func (m *LeadRepoMock) SaveLeadEnrichment(ctx context.Context, leadID string, record model.EnrichmentRecord, enrichedAt time.Time) error {
	args := m.Called(ctx, leadID, record, enrichedAt)
	return args.Error(0)
}

func (m *LeadRepoMock) ListUnscoredLeadIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- ScoreHistoryRepo Mock ---

// ScoreHistoryRepoMock mocks the ScoreHistoryRepo interface
type ScoreHistoryRepoMock struct {
	mock.Mock
}

func (m *ScoreHistoryRepoMock) AppendScoreHistory(ctx context.Context, entry model.ScoreHistory) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// --- RuleRepo Mock ---

// RuleRepoMock mocks the RuleRepo interface
type RuleRepoMock struct {
	mock.Mock
}

func (m *RuleRepoMock) ListActiveScoringRules(ctx context.Context) ([]model.ScoringRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScoringRule), args.Error(1)
}

func (m *RuleRepoMock) ListActiveAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AssignmentRule), args.Error(1)
}

// --- SettingsRepo Mock ---

// SettingsRepoMock mocks the SettingsRepo interface
type SettingsRepoMock struct {
	mock.Mock
}

func (m *SettingsRepoMock) FindSettings(ctx context.Context, keys []string) (map[string]bool, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *SettingsRepoMock) UpsertSetting(ctx context.Context, setting model.SystemSetting) error {
	args := m.Called(ctx, setting)
	return args.Error(0)
}

// --- NotificationRepo Mock ---

// NotificationRepoMock mocks the NotificationRepo interface
type NotificationRepoMock struct {
	mock.Mock
}

func (m *NotificationRepoMock) CreateNotification(ctx context.Context, notification *model.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}
