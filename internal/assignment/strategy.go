package assignment

import (
	"context"
	"errors"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rules"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
)

// claimsRotation reports whether the strategy orders by LastLeadAssignedAt and
// therefore has to advance it with a compare-and-set.
func claimsRotation(t model.AssignmentType) bool {
	switch t {
	case model.AssignRoundRobin, model.AssignTeam, model.AssignQueue:
		return true
	}
	return false
}

// resolveAssignee picks the owner for a matched rule. A nil user with a nil
// error means no candidate exists.
func (e *Engine) resolveAssignee(ctx context.Context, store storage.AssignmentStore, rule rules.AssignmentRule, lead *model.Lead) (*model.User, error) {
	switch rule.AssignmentType {
	case model.AssignSpecificUser:
		if rule.AssignToUserID == nil || *rule.AssignToUserID == "" {
			return nil, nil
		}
		return ignoreNotFound(store.FindActiveUser(ctx, *rule.AssignToUserID))

	case model.AssignRoundRobin:
		users, err := store.ListRoundRobinUsers(ctx, rule.RoundRobinGroup)
		if err != nil {
			return nil, err
		}
		return leastRecentlyAssigned(users), nil

	case model.AssignTeam:
		if rule.AssignToTeamID == nil || *rule.AssignToTeamID == "" {
			return nil, nil
		}
		loads, err := store.ListTeamMemberLoads(ctx, *rule.AssignToTeamID, e.cfg.TerminalStatuses)
		if err != nil {
			return nil, err
		}
		return leastLoaded(loads), nil

	case model.AssignQueue:
		users, err := store.ListAvailableUsers(ctx)
		if err != nil {
			return nil, err
		}
		return leastRecentlyAssigned(users), nil

	case model.AssignTerritory:
		if lead.State == "" {
			return nil, nil
		}
		territory, err := ignoreNotFound(store.FindActiveTerritory(ctx, lead.State))
		if err != nil || territory == nil || territory.OwnerID == "" {
			return nil, err
		}
		return ignoreNotFound(store.FindActiveUser(ctx, territory.OwnerID))
	}
	return nil, nil
}

func ignoreNotFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// assignedBefore orders by LastLeadAssignedAt with never-assigned users first, then by id.
func assignedBefore(a, b *model.User) bool {
	switch {
	case a.LastLeadAssignedAt == nil && b.LastLeadAssignedAt != nil:
		return true
	case a.LastLeadAssignedAt != nil && b.LastLeadAssignedAt == nil:
		return false
	case a.LastLeadAssignedAt != nil && !a.LastLeadAssignedAt.Equal(*b.LastLeadAssignedAt):
		return a.LastLeadAssignedAt.Before(*b.LastLeadAssignedAt)
	}
	return a.ID < b.ID
}

func leastRecentlyAssigned(users []model.User) *model.User {
	var best *model.User
	for i := range users {
		if best == nil || assignedBefore(&users[i], best) {
			best = &users[i]
		}
	}
	return best
}

func leastLoaded(loads []storage.UserLoad) *model.User {
	var best *storage.UserLoad
	for i := range loads {
		c := &loads[i]
		if best == nil || c.OpenLeads < best.OpenLeads ||
			(c.OpenLeads == best.OpenLeads && assignedBefore(&c.User, &best.User)) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	u := best.User
	return &u
}
