package jobqueue

import (
	"context"
	"time"

	"queuectl/registry"
)

func (w *Worker) reaperLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		reaped, err := ReapOnce(ctx, w.q, w.reg, w.cfg.OrphanAfter)
		if err != nil && ctx.Err() == nil {
			w.logf("reaper error: %v", err)
		}
		for _, j := range reaped {
			w.logf("requeued orphaned job=%s attempts=%d", j.ID, j.Attempts)
		}

		sleepWithJitter(ctx, w.cfg.ReapInterval, w.cfg.ReapJitterPct)
	}
}

// ReapOnce requeues processing jobs that no live worker claims.
func ReapOnce(ctx context.Context, q *Queue, reg *registry.Registry, olderThan time.Duration) ([]Job, error) {
	live, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	return q.ReapOrphaned(ctx, registry.ActiveJobs(live), olderThan)
}
