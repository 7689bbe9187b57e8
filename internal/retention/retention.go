// Package retention prunes old stage snapshots. Run records and
// notification history are audit data and are never pruned.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/kanshi/internal/snapshot"
)

// Engine applies age and count limits per owner key and stage.
// Snapshots retained by an in-flight run are always skipped.
type Engine struct {
	Snapshots *snapshot.Store
	MaxAge    time.Duration
	KeepLastN int
}

// Prune walks every owner and stage, removing snapshots past MaxAge and
// anything beyond the newest KeepLastN. A zero limit disables that
// limit.
func (e *Engine) Prune(ctx context.Context) error {
	owners, err := e.Snapshots.Owners()
	if err != nil {
		return err
	}

	total := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, stage := range []string{snapshot.StageMonitor, snapshot.StageAuthorize} {
			removed, err := e.pruneStage(owner, stage)
			if err != nil {
				return err
			}
			total += removed
		}
	}

	if total > 0 {
		slog.Info("Retention prune complete", "removed", total)
	}
	return nil
}

func (e *Engine) pruneStage(owner, stage string) (int, error) {
	removed := 0

	if e.MaxAge > 0 {
		n, err := e.Snapshots.DeleteOlderThan(owner, stage, time.Now().Add(-e.MaxAge))
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if e.KeepLastN > 0 {
		n, err := e.Snapshots.KeepLastN(owner, stage, e.KeepLastN)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	return removed, nil
}
