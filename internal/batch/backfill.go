package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

const DefaultPageSize = 200

// UnscoredLister pages through leads that have never been scored.
type UnscoredLister interface {
	ListUnscoredLeadIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type BackfillOptions struct {
	PageSize int
	// Limit stops after this many leads. Zero means no limit.
	Limit int
	Score scoring.ScoreOptions
}

// Backfill scores every unscored lead, one page at a time. Pages are keyed by
// id, so leads that fail are skipped rather than retried in the same run.
func (o *Orchestrator) Backfill(ctx context.Context, lister UnscoredLister, opts BackfillOptions) (Summary, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	log := logger.FromContext(ctx)

	var (
		total Summary
		after string
	)
	for {
		limit := opts.PageSize
		if opts.Limit > 0 {
			limit = min(limit, opts.Limit-total.Total)
			if limit <= 0 {
				break
			}
		}

		ids, err := lister.ListUnscoredLeadIDs(ctx, after, limit)
		if err != nil {
			return total, fmt.Errorf("list unscored leads after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		res := o.ScoreMany(ctx, ids, opts.Score)
		total.Total += res.Summary.Total
		total.Successful += res.Summary.Successful
		total.Failed += res.Summary.Failed
		for _, item := range res.Results {
			if item.Error != "" {
				log.Warn("Backfill failed for lead", zap.String("lead_id", item.LeadID), zap.String("error", item.Error))
			}
		}
		log.Info("Backfill page done",
			zap.Int("page_size", len(ids)),
			zap.Int("total", total.Total),
			zap.Int("failed", total.Failed),
		)

		if err := ctx.Err(); err != nil {
			return total, err
		}
		after = ids[len(ids)-1]
	}
	return total, nil
}
