package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"queuectl/store"
)

type Queue struct {
	st  store.Store
	now func() time.Time
}

type Option func(*Queue)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func NewQueue(st store.Store, opts ...Option) *Queue {
	q := &Queue{st: st, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue creates a pending job. A nil maxRetries takes the configured default.
func (q *Queue) Enqueue(ctx context.Context, command string, priority Priority, maxRetries *int) (Job, error) {
	if strings.TrimSpace(command) == "" {
		return Job{}, fmt.Errorf("%w: command must not be empty", ErrInvalidArgument)
	}
	priority, err := ParsePriority(string(priority))
	if err != nil {
		return Job{}, err
	}

	retries := 0
	if maxRetries != nil {
		if *maxRetries < 1 {
			return Job{}, fmt.Errorf("%w: max retries must be >= 1, got %d", ErrInvalidArgument, *maxRetries)
		}
		retries = *maxRetries
	} else {
		cfg, err := q.Config(ctx)
		if err != nil {
			return Job{}, fmt.Errorf("read config: %w", err)
		}
		retries = cfg.MaxRetries
	}

	now := q.now().UTC()
	job := Job{
		ID:         uuid.NewString(),
		Command:    command,
		State:      StatePending,
		Priority:   priority,
		Attempts:   0,
		MaxRetries: retries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Log:        []string{},
	}
	job.logf(now, "Job created.")

	return store.Update(ctx, q.st, store.DocJobs, newJobTable, func(t *jobTable) (Job, error) {
		t.Jobs = append(t.Jobs, job)
		return job, nil
	})
}
