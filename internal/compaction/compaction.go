// Package compaction runs the periodic state-group dedup pass. Concurrent
// writers can materialize identical snapshots under different group ids;
// compaction rewrites event links to the canonical group and drops the
// affected rooms from the derivation cache.
package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"roomgraph/pkg/config"
	"roomgraph/pkg/graph"
	"roomgraph/pkg/logger"
	"roomgraph/pkg/store"
)

// Start launches the compaction scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.CompactionConfig, resolver *graph.Resolver) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("compaction_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("compaction_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid compaction cron expression: %s", cfg.Cron)
	}

	logger.Info("compaction_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, resolver)
	return cancel, nil
}

// RunOnce triggers a single compaction pass on demand.
func RunOnce(resolver *graph.Resolver) error {
	rewritten, rooms, err := store.DedupStateGroups()
	if err != nil {
		return err
	}
	if rewritten == 0 {
		return nil
	}
	for _, room := range rooms {
		if resolver != nil {
			resolver.InvalidateRoom(room)
		}
	}
	logger.Info("compaction_run_complete", "links_rewritten", rewritten, "rooms", len(rooms))
	return nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
func runScheduler(ctx context.Context, cronExpr string, resolver *graph.Resolver) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("compaction_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("compaction_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(resolver); err != nil {
				logger.Error("compaction_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("compaction_scheduler_stopping")
			return
		}
	}
}
