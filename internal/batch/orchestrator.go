package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

const (
	DefaultChunkSize  = 10
	DefaultChunkDelay = 100 * time.Millisecond
)

// Scorer scores a single lead.
type Scorer interface {
	ScoreLead(ctx context.Context, leadID string, opts scoring.ScoreOptions) (*scoring.LeadScore, error)
}

// Assigner assigns a single lead.
type Assigner interface {
	AssignLead(ctx context.Context, leadID string, opts assignment.AssignOptions) (*assignment.Outcome, error)
}

type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type ScoreItem struct {
	LeadID string             `json:"lead_id"`
	Score  *scoring.LeadScore `json:"score,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type ScoreBatchResult struct {
	Results []ScoreItem `json:"results"`
	Summary Summary     `json:"summary"`
}

type AssignItem struct {
	LeadID  string              `json:"lead_id"`
	Outcome *assignment.Outcome `json:"outcome,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type AssignSummary struct {
	Summary
	Assigned    int `json:"assigned"`
	NotAssigned int `json:"not_assigned"`
}

type AssignBatchResult struct {
	Results []AssignItem  `json:"results"`
	Summary AssignSummary `json:"summary"`
}

type task struct {
	ctx context.Context
	run func(ctx context.Context) error
	err *error
	wg  *sync.WaitGroup
}

// Orchestrator runs bulk scoring and assignment in bounded chunks.
type Orchestrator struct {
	scorer   Scorer
	assigner Assigner
	cfg      Config
	pool     *ants.PoolWithFunc
}

// NewOrchestrator starts a worker pool sized to one chunk. Call Release when done.
func NewOrchestrator(scorer Scorer, assigner Assigner, cfg Config) (*Orchestrator, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = DefaultChunkDelay
	}

	pool, err := ants.NewPoolWithFunc(cfg.ChunkSize, func(i interface{}) {
		t, ok := i.(task)
		if !ok {
			logger.Log.Error("Invalid batch task type received", zap.Any("data", i))
			return
		}
		defer t.wg.Done()
		*t.err = utils.WrapWithContextRecovery(t.run)(t.ctx)
	},
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Log.Error("Panic recovered in batch worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch worker pool: %w", err)
	}
	return &Orchestrator{scorer: scorer, assigner: assigner, cfg: cfg, pool: pool}, nil
}

func (o *Orchestrator) Release() {
	o.pool.Release()
}

// ScoreMany scores every lead. A failure is recorded against its lead and never stops the batch.
func (o *Orchestrator) ScoreMany(ctx context.Context, leadIDs []string, opts scoring.ScoreOptions) ScoreBatchResult {
	results := make([]ScoreItem, len(leadIDs))
	errs := o.run(ctx, "score", leadIDs, func(ctx context.Context, i int) error {
		res, err := o.scorer.ScoreLead(ctx, leadIDs[i], opts)
		results[i].Score = res
		return err
	})

	out := ScoreBatchResult{Results: results, Summary: Summary{Total: len(leadIDs)}}
	for i, id := range leadIDs {
		results[i].LeadID = id
		if errs[i] != nil {
			results[i].Score = nil
			results[i].Error = errs[i].Error()
			out.Summary.Failed++
			continue
		}
		out.Summary.Successful++
	}
	return out
}

// AssignMany assigns every lead. Not-assigned outcomes count as successful calls.
func (o *Orchestrator) AssignMany(ctx context.Context, leadIDs []string, opts assignment.AssignOptions) AssignBatchResult {
	results := make([]AssignItem, len(leadIDs))
	errs := o.run(ctx, "assign", leadIDs, func(ctx context.Context, i int) error {
		outcome, err := o.assigner.AssignLead(ctx, leadIDs[i], opts)
		results[i].Outcome = outcome
		return err
	})

	out := AssignBatchResult{Results: results, Summary: AssignSummary{Summary: Summary{Total: len(leadIDs)}}}
	for i, id := range leadIDs {
		results[i].LeadID = id
		if errs[i] != nil {
			results[i].Outcome = nil
			results[i].Error = errs[i].Error()
			out.Summary.Failed++
			continue
		}
		out.Summary.Successful++
		if results[i].Outcome != nil && results[i].Outcome.Assigned {
			out.Summary.Assigned++
		} else {
			out.Summary.NotAssigned++
		}
	}
	return out
}

// run executes fn for each index, one chunk at a time, pausing between chunks.
// Items left unscheduled after ctx ends get the context error.
func (o *Orchestrator) run(ctx context.Context, operation string, leadIDs []string, fn func(ctx context.Context, i int) error) []error {
	log := logger.FromContext(ctx).With(zap.String("operation", operation), zap.Int("total", len(leadIDs)))
	errs := make([]error, len(leadIDs))
	start := time.Now()

	for lo := 0; lo < len(leadIDs); lo += o.cfg.ChunkSize {
		hi := min(lo+o.cfg.ChunkSize, len(leadIDs))

		if lo > 0 {
			if err := utils.SleepContext(ctx, o.cfg.ChunkDelay); err != nil && ctx.Err() != nil {
				o.abandon(errs[lo:], ctx.Err())
				break
			}
		}
		if ctx.Err() != nil {
			o.abandon(errs[lo:], ctx.Err())
			break
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			i := i
			wg.Add(1)
			t := task{
				ctx: ctx,
				run: func(ctx context.Context) error { return fn(ctx, i) },
				err: &errs[i],
				wg:  &wg,
			}
			if err := o.pool.Invoke(t); err != nil {
				wg.Done()
				errs[i] = fmt.Errorf("submit to worker pool: %w", err)
			}
		}
		wg.Wait()
		log.Debug("Batch chunk done", zap.Int("from", lo), zap.Int("to", hi))
	}

	failed := 0
	for _, err := range errs {
		observer.IncBatchItem(operation, err)
		if err != nil {
			failed++
		}
	}
	log.Info("Batch finished", zap.Int("failed", failed), zap.Duration("duration", time.Since(start)))
	return errs
}

func (o *Orchestrator) abandon(errs []error, cause error) {
	for i := range errs {
		errs[i] = fmt.Errorf("not processed: %w", cause)
	}
}
