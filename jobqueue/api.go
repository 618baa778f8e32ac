package jobqueue

import (
	"context"
	"fmt"

	"queuectl/store"
)

// StateAll selects every job in GetByState.
const StateAll State = "all"

func (q *Queue) jobs(ctx context.Context) ([]Job, error) {
	t, err := store.View(ctx, q.st, store.DocJobs, newJobTable)
	if err != nil {
		return nil, err
	}
	return t.Jobs, nil
}

// GetByState returns the jobs in state, in storage order. StateAll returns every job.
func (q *Queue) GetByState(ctx context.Context, state State) ([]Job, error) {
	if state != StateAll {
		if _, err := ParseState(string(state)); err != nil {
			return nil, err
		}
	}

	all, err := q.jobs(ctx)
	if err != nil {
		return nil, err
	}
	if state == StateAll {
		return all, nil
	}

	out := []Job{}
	for _, j := range all {
		if j.State == state {
			out = append(out, j)
		}
	}
	return out, nil
}

// GetByID resolves an exact id or, failing that, the first job in storage order whose id
// starts with idOrPrefix. It returns nil when nothing matches.
func (q *Queue) GetByID(ctx context.Context, idOrPrefix string) (*Job, error) {
	t, err := store.View(ctx, q.st, store.DocJobs, newJobTable)
	if err != nil {
		return nil, err
	}
	i := t.lookup(idOrPrefix, nil)
	if i < 0 {
		return nil, nil
	}
	j := t.Jobs[i]
	return &j, nil
}

// Update replaces the stored job with the same id and bumps updated_at.
func (q *Queue) Update(ctx context.Context, job Job) (Job, error) {
	return store.Update(ctx, q.st, store.DocJobs, newJobTable, func(t *jobTable) (Job, error) {
		i := t.indexOf(job.ID)
		if i < 0 {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
		}
		job.UpdatedAt = q.now().UTC()
		t.Jobs[i] = cloneJob(job)
		return job, nil
	})
}

// StatusSummary counts jobs per state. Every state is present in the result.
func (q *Queue) StatusSummary(ctx context.Context) (map[State]int, error) {
	all, err := q.jobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[State]int, len(States))
	for _, s := range States {
		out[s] = 0
	}
	for _, j := range all {
		out[j.State]++
	}
	return out, nil
}

// RetryDeadJob moves a dead job back to pending with a fresh attempt budget.
// It returns nil, and changes nothing, when no dead job matches.
func (q *Queue) RetryDeadJob(ctx context.Context, idOrPrefix string) (*Job, error) {
	var found *Job
	err := q.st.Transaction(ctx, store.DocJobs, func(current []byte) ([]byte, error) {
		t, err := decodeJobTable(current)
		if err != nil {
			return nil, err
		}

		i := t.lookup(idOrPrefix, func(j Job) bool { return j.State == StateDead })
		if i < 0 {
			return nil, nil
		}

		now := q.now().UTC()
		j := &t.Jobs[i]
		j.State = StatePending
		j.Attempts = 0
		j.RetryAt = nil
		j.UpdatedAt = now
		j.logf(now, "Job manually retried from DLQ.")

		job := cloneJob(*j)
		found = &job
		return encodeJobTable(t)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
