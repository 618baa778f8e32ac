package jobqueue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"queuectl/registry"
)

type WorkerConfig struct {
	// PID identifies the worker in the registry and in job logs.
	PID int

	// PollInterval is the sleep when no job is ready.
	PollInterval time.Duration
	// CommandTimeout bounds every command run.
	CommandTimeout time.Duration

	ReapInterval  time.Duration
	ReapJitterPct float64 // e.g. 0.2 means +/-20%
	// OrphanAfter is how long a processing job without a live owner is left alone.
	OrphanAfter time.Duration

	Logger Logger
}

const DefaultOrphanAfter = 2 * time.Minute

func (c *WorkerConfig) setDefaults() {
	if c.PID <= 0 {
		c.PID = os.Getpid()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.ReapJitterPct <= 0 {
		c.ReapJitterPct = 0.2
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = DefaultOrphanAfter
	}
}

// Worker runs queued commands one at a time on behalf of a single process.
type Worker struct {
	q    *Queue
	reg  *registry.Registry
	exec Executor
	cfg  WorkerConfig
}

func NewWorker(q *Queue, reg *registry.Registry, exec Executor, cfg WorkerConfig) *Worker {
	cfg.setDefaults()
	return &Worker{q: q, reg: reg, exec: exec, cfg: cfg}
}

// Run registers the worker and processes jobs until ctx is cancelled. Cancellation is
// only observed between jobs; a running command always gets recorded.
func (w *Worker) Run(ctx context.Context) error {
	pid := w.cfg.PID
	if err := w.reg.Register(ctx, pid); err != nil {
		return fmt.Errorf("register worker %d: %w", pid, err)
	}
	w.logf("worker %d started", pid)

	defer func() {
		if err := w.reg.Deregister(context.WithoutCancel(ctx), pid); err != nil {
			w.logf("deregister worker %d: %v", pid, err)
		}
		w.logf("worker %d stopped", pid)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.loop(gctx)
		return nil
	})
	g.Go(func() error {
		w.reaperLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ran, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logf("dequeue error: %v", err)
			sleepWithJitter(ctx, w.cfg.PollInterval, 0.5)
			continue
		}
		if !ran {
			sleepWithJitter(ctx, w.cfg.PollInterval, 0)
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was run.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.q.DequeueNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.runOne(context.WithoutCancel(ctx), *job)
	return true, nil
}

// Drain runs jobs until none is ready and returns how many ran.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ran, err := w.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

func (w *Worker) runOne(ctx context.Context, job Job) {
	pid := w.cfg.PID
	defer w.idle(ctx)

	if err := w.reg.SetProcessing(ctx, pid, job.ID); err != nil {
		w.logf("mark worker %d processing job=%s: %v", pid, job.ID, err)
	}

	now := w.q.now().UTC()
	job.Attempts++
	job.logf(now, "Attempt %d started by worker %d.", job.Attempts, pid)
	job.logf(now, "Executing: %s", job.Command)

	started, err := w.q.Update(ctx, job)
	if err != nil {
		w.logf("record start job=%s: %v", job.ID, err)
		if err := w.q.release(ctx, job.ID); err != nil {
			w.logf("release job=%s: %v", job.ID, err)
		}
		return
	}

	res := w.exec.Execute(ctx, started.Command, w.cfg.CommandTimeout)

	// Read the config after the run so a backoff change applies to this retry.
	cfg, err := w.q.Config(ctx)
	if err != nil {
		w.logf("read config: %v", err)
		cfg = DefaultConfig()
	}

	done := cloneJob(started)
	finish(&done, res, cfg, w.cfg.CommandTimeout, w.q.now().UTC())
	if _, err := w.q.Update(ctx, done); err != nil {
		w.logf("record outcome job=%s: %v", job.ID, err)

		fb := cloneJob(started)
		fallback(&fb, err, cfg, w.q.now().UTC())
		if _, err := w.q.Update(ctx, fb); err != nil {
			w.logf("record fallback job=%s: %v", job.ID, err)
		}
		return
	}
	w.logf("job=%s attempt=%d state=%s", done.ID, done.Attempts, done.State)
}

func (w *Worker) idle(ctx context.Context) {
	if err := w.reg.SetIdle(ctx, w.cfg.PID); err != nil {
		w.logf("mark worker %d idle: %v", w.cfg.PID, err)
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Printf(format, args...)
	}
}

func sleepWithJitter(ctx context.Context, base time.Duration, pct float64) {
	if base <= 0 {
		return
	}
	j := 1.0
	if pct > 0 {
		// random in [1-pct, 1+pct]
		j = (1 - pct) + rand.Float64()*(2*pct)
	}
	d := time.Duration(float64(base) * j)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
