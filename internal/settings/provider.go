package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

var knownKeys = []string{model.SettingAutoAssignmentEnabled, model.SettingRoundRobinEnabled}

// Snapshot is the toggle state read once at the start of an operation.
type Snapshot struct {
	AutoAssignmentEnabled bool `json:"auto_assignment_enabled"`
	RoundRobinEnabled     bool `json:"round_robin_enabled"`
}

// Provider reads and writes the global assignment toggles.
type Provider struct {
	repo storage.SettingsRepo
}

func NewProvider(repo storage.SettingsRepo) *Provider {
	return &Provider{repo: repo}
}

// Snapshot reads both toggles. A toggle without a stored row is enabled.
func (p *Provider) Snapshot(ctx context.Context) (Snapshot, error) {
	stored, err := p.repo.FindSettings(ctx, knownKeys)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read settings: %w", err)
	}
	enabled := func(key string) bool {
		v, ok := stored[key]
		return !ok || v
	}
	return Snapshot{
		AutoAssignmentEnabled: enabled(model.SettingAutoAssignmentEnabled),
		RoundRobinEnabled:     enabled(model.SettingRoundRobinEnabled),
	}, nil
}

// Set stores a toggle on behalf of actorID. Unknown keys are rejected.
func (p *Provider) Set(ctx context.Context, key string, enabled bool, actorID string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: unknown setting %q", apperrors.ErrBadRequest, key)
	}
	if err := p.repo.UpsertSetting(ctx, model.SystemSetting{Key: key, Enabled: enabled, UpdatedByID: actorID}); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Setting updated",
		zap.String("key", key), zap.Bool("enabled", enabled), zap.String("actor_id", actorID))
	return nil
}

func IsKnownKey(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}
