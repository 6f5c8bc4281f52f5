package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
)

const maxTxAttempts = 20

// MemoryStore is an in-memory implementation of every storage interface.
// ClaimUser is a real compare-and-set on shared state, so concurrent InTx
// callers race the same way they would against Postgres.
type MemoryStore struct {
	mu sync.Mutex

	Leads           map[string]*model.Lead
	Users           map[string]*model.User
	Teams           map[string]*model.Team
	TeamMembers     []model.TeamMember
	Territories     []model.Territory
	ScoringRules    []model.ScoringRule
	AssignmentRules []model.AssignmentRule
	Settings        map[string]bool

	History       []model.ScoreHistory
	Logs          []model.AssignmentLog
	Opportunities []model.Opportunity
	Notifications []model.Notification

	// Injected failures.
	HistoryErr      error
	NotificationErr error
	RulesErr        error

	TxCount       int
	ConflictCount int
	RuleLoads     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Leads:    map[string]*model.Lead{},
		Users:    map[string]*model.User{},
		Teams:    map[string]*model.Team{},
		Settings: map[string]bool{},
	}
}

// AddLeads stores copies of leads.
func (s *MemoryStore) AddLeads(leads ...*model.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range leads {
		cp := *l
		s.Leads[l.ID] = &cp
	}
}

// AddUsers stores copies of users.
func (s *MemoryStore) AddUsers(users ...*model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		cp := *u
		s.Users[u.ID] = &cp
	}
}

// Lead returns a snapshot of a stored lead.
func (s *MemoryStore) Lead(id string) *model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Leads[id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

// User returns a snapshot of a stored user.
func (s *MemoryStore) User(id string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// --- LeadRepo ---

func (s *MemoryStore) FindLeadByID(ctx context.Context, leadID string) (*model.Lead, error) {
	if l := s.Lead(leadID); l != nil {
		return l, nil
	}
	return nil, fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
}

func (s *MemoryStore) SaveLeadScore(ctx context.Context, leadID string, score storage.LeadScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Leads[leadID]
	if !ok {
		return fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
	}
	value, rank, at := score.Score, score.Rank, score.ScoredAt
	l.Score, l.Rank, l.ScoredAt = &value, &rank, &at
	l.ScoreFactors = score.Factors
	l.ScoreVersion = score.ScoreVersion
	return nil
}

func (s *MemoryStore) SaveLeadEnrichment(ctx context.Context, leadID string, record model.EnrichmentRecord, enrichedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Leads[leadID]
	if !ok {
		return fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
	}
	l.MedianHouseholdIncome = record.MedianHouseholdIncome
	l.MedianHomeValue = record.MedianHomeValue
	l.HomeownershipRate = record.HomeownershipRate
	l.MedianAge = record.MedianAge
	l.CensusTract = record.CensusTract
	l.EnrichedAt = &enrichedAt
	return nil
}

func (s *MemoryStore) ListUnscoredLeadIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, l := range s.Leads {
		if l.Score == nil && !l.IsConverted && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- ScoreHistoryRepo ---

func (s *MemoryStore) AppendScoreHistory(ctx context.Context, entry model.ScoreHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HistoryErr != nil {
		return s.HistoryErr
	}
	s.History = append(s.History, entry)
	return nil
}

// --- RuleRepo ---

func (s *MemoryStore) ListActiveScoringRules(ctx context.Context) ([]model.ScoringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RuleLoads++
	if s.RulesErr != nil {
		return nil, s.RulesErr
	}
	var out []model.ScoringRule
	for _, r := range s.ScoringRules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListActiveAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RulesErr != nil {
		return nil, s.RulesErr
	}
	var out []model.AssignmentRule
	for _, r := range s.AssignmentRules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- SettingsRepo ---

func (s *MemoryStore) FindSettings(ctx context.Context, keys []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, k := range keys {
		if v, ok := s.Settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertSetting(ctx context.Context, setting model.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings[setting.Key] = setting.Enabled
	return nil
}

// --- NotificationRepo ---

func (s *MemoryStore) CreateNotification(ctx context.Context, notification *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NotificationErr != nil {
		return s.NotificationErr
	}
	s.Notifications = append(s.Notifications, *notification)
	return nil
}

// --- Transactor ---

// InTx retries fn on ErrConflict. Writes are applied immediately; fn is
// expected to fail only before its first write, as the assignment engine does.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, store storage.AssignmentStore) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		s.mu.Lock()
		s.TxCount++
		s.mu.Unlock()

		err = fn(ctx, memoryTx{s})
		if !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
		s.mu.Lock()
		s.ConflictCount++
		s.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

type memoryTx struct {
	s *MemoryStore
}

func (t memoryTx) LockLead(ctx context.Context, leadID string) (*model.Lead, error) {
	return t.s.FindLeadByID(ctx, leadID)
}

func (t memoryTx) FindActiveUser(ctx context.Context, userID string) (*model.User, error) {
	u := t.s.User(userID)
	if u == nil || !u.IsActive {
		return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
	}
	return u, nil
}

func (t memoryTx) ListRoundRobinUsers(ctx context.Context, group string) ([]model.User, error) {
	return t.s.filterUsers(func(u *model.User) bool {
		return u.IsActive && (group == "" || u.RoundRobinGroup == group)
	}), nil
}

func (t memoryTx) ListAvailableUsers(ctx context.Context) ([]model.User, error) {
	return t.s.filterUsers(func(u *model.User) bool { return u.IsActive && u.IsAvailable }), nil
}

func (t memoryTx) ListTeamMemberLoads(ctx context.Context, teamID string, terminalStatuses []string) ([]storage.UserLoad, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.Teams[teamID]
	if !ok || !team.IsActive {
		return nil, nil
	}
	terminal := map[string]bool{}
	for _, st := range terminalStatuses {
		terminal[st] = true
	}
	var loads []storage.UserLoad
	for _, m := range s.TeamMembers {
		u, ok := s.Users[m.UserID]
		if m.TeamID != teamID || !ok || !u.IsActive {
			continue
		}
		load := storage.UserLoad{User: *u}
		for _, l := range s.Leads {
			if l.OwnerID != nil && *l.OwnerID == u.ID && !l.IsConverted && !terminal[l.Status] {
				load.OpenLeads++
			}
		}
		loads = append(loads, load)
	}
	return loads, nil
}

func (t memoryTx) FindActiveTerritory(ctx context.Context, state string) (*model.Territory, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.Territories {
		if tr.IsActive && strings.EqualFold(tr.State, state) {
			cp := tr
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: territory for %s", apperrors.ErrNotFound, state)
}

func (t memoryTx) ClaimUser(ctx context.Context, userID string, prev *time.Time, now time.Time) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
	}
	current := u.LastLeadAssignedAt
	same := (current == nil && prev == nil) || (current != nil && prev != nil && current.Equal(*prev))
	if !same {
		return fmt.Errorf("%w: user %s was claimed concurrently", apperrors.ErrConflict, userID)
	}
	at := now
	u.LastLeadAssignedAt = &at
	return nil
}

func (t memoryTx) CreateOpportunity(ctx context.Context, opportunity *model.Opportunity) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if opportunity.ID == "" {
		opportunity.ID = fmt.Sprintf("opp-%d", len(s.Opportunities)+1)
	}
	s.Opportunities = append(s.Opportunities, *opportunity)
	return nil
}

func (t memoryTx) UpdateLeadOwnership(ctx context.Context, leadID string, update storage.Ownership) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Leads[leadID]
	if !ok {
		return fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, leadID)
	}
	owner, by, at := update.OwnerID, update.AssignedByID, update.AssignedAt
	l.OwnerID, l.AssignedByID, l.AssignedAt = &owner, &by, &at
	l.AssignmentRuleID = update.RuleID
	if update.Status != "" {
		l.Status = update.Status
	}
	if update.OpportunityID != nil {
		l.OpportunityID = update.OpportunityID
	}
	return nil
}

func (t memoryTx) CreateAssignmentLog(ctx context.Context, entry *model.AssignmentLog) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logs = append(s.Logs, *entry)
	return nil
}

func (s *MemoryStore) filterUsers(keep func(u *model.User) bool) []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.Users {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	_ storage.LeadRepo         = (*MemoryStore)(nil)
	_ storage.ScoreHistoryRepo = (*MemoryStore)(nil)
	_ storage.RuleRepo         = (*MemoryStore)(nil)
	_ storage.SettingsRepo     = (*MemoryStore)(nil)
	_ storage.NotificationRepo = (*MemoryStore)(nil)
	_ storage.Transactor       = (*MemoryStore)(nil)
)
