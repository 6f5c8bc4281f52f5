package rulestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rules"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

const (
	DefaultTTL = 5 * time.Minute
	loadKey    = "rules"
)

// RuleSet is an immutable snapshot of the active, compiled rules.
type RuleSet struct {
	Scoring    []rules.ScoringRule
	Assignment []rules.AssignmentRule
	// MaxRawScore is the sum of positive impacts across Scoring.
	MaxRawScore int
	LoadedAt    time.Time
}

// Store caches the active rule set for a fixed TTL. Invalidate forces the
// next Get to reload.
type Store struct {
	repo storage.RuleRepo
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu         sync.RWMutex
	current    *RuleSet
	expiresAt  time.Time
	generation uint64
}

type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(repo storage.RuleRepo, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{repo: repo, ttl: ttl, now: utils.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached rule set, loading it when absent or expired.
// Concurrent misses share one load.
func (s *Store) Get(ctx context.Context) (*RuleSet, error) {
	s.mu.RLock()
	if s.current != nil && s.now().Before(s.expiresAt) {
		rs := s.current
		s.mu.RUnlock()
		return rs, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do(loadKey, func() (interface{}, error) {
		return s.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleSet), nil
}

// Invalidate drops the cached set. A load already in flight is not cached.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.generation++
	s.mu.Unlock()
	s.group.Forget(loadKey)
}

func (s *Store) load(ctx context.Context) (*RuleSet, error) {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	log := logger.FromContext(ctx)

	scoringRows, err := s.repo.ListActiveScoringRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules: %w", err)
	}
	assignmentRows, err := s.repo.ListActiveAssignmentRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assignment rules: %w", err)
	}

	rs := &RuleSet{LoadedAt: s.now()}

	for _, row := range scoringRows {
		compiled, err := rules.CompileScoringRule(row)
		if err != nil {
			log.Warn("Dropping scoring rule", zap.String("rule_id", row.ID), zap.String("field", row.Field), zap.Error(err))
			observer.AddRulesLoaded("scoring", "dropped", 1)
			continue
		}
		rs.Scoring = append(rs.Scoring, compiled)
		if compiled.Impact > 0 {
			rs.MaxRawScore += compiled.Impact
		}
	}
	for _, row := range assignmentRows {
		compiled, err := rules.CompileAssignmentRule(row)
		if err != nil {
			log.Warn("Dropping assignment rule", zap.String("rule_id", row.ID), zap.Error(err))
			observer.AddRulesLoaded("assignment", "dropped", 1)
			continue
		}
		rs.Assignment = append(rs.Assignment, compiled)
	}

	sort.SliceStable(rs.Scoring, func(i, j int) bool {
		a, b := rs.Scoring[i], rs.Scoring[j]
		return precedes(a.Priority, b.Priority, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	sort.SliceStable(rs.Assignment, func(i, j int) bool {
		a, b := rs.Assignment[i], rs.Assignment[j]
		return precedes(a.Priority, b.Priority, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	observer.AddRulesLoaded("scoring", "compiled", len(rs.Scoring))
	observer.AddRulesLoaded("assignment", "compiled", len(rs.Assignment))
	log.Debug("Loaded rule set",
		zap.Int("scoring_rules", len(rs.Scoring)),
		zap.Int("assignment_rules", len(rs.Assignment)),
		zap.Int("max_raw_score", rs.MaxRawScore),
	)

	s.mu.Lock()
	if s.generation == gen {
		s.current = rs
		s.expiresAt = rs.LoadedAt.Add(s.ttl)
	}
	s.mu.Unlock()
	return rs, nil
}

// precedes orders by priority descending, then creation ascending, then id.
func precedes(pa, pb int, ca, cb time.Time, ida, idb string) bool {
	if pa != pb {
		return pa > pb
	}
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return ida < idb
}
