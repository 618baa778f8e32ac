package jobqueue

import (
	"context"
	"fmt"
	"time"

	"queuectl/store"
)

// ReapOrphaned moves processing jobs back to pending when no live worker holds them and
// they have not been touched for olderThan. active maps held job ids to worker pids.
// Attempts are kept.
func (q *Queue) ReapOrphaned(ctx context.Context, active map[string]int, olderThan time.Duration) ([]Job, error) {
	if olderThan <= 0 {
		olderThan = DefaultOrphanAfter
	}

	var reaped []Job
	err := q.st.Transaction(ctx, store.DocJobs, func(current []byte) ([]byte, error) {
		reaped = nil
		t, err := decodeJobTable(current)
		if err != nil {
			return nil, err
		}

		now := q.now().UTC()
		cutoff := now.Add(-olderThan)
		for i := range t.Jobs {
			j := &t.Jobs[i]
			if j.State != StateProcessing || !j.UpdatedAt.Before(cutoff) {
				continue
			}
			if _, held := active[j.ID]; held {
				continue
			}
			j.State = StatePending
			j.RetryAt = nil
			j.UpdatedAt = now
			j.logf(now, "Requeued: no live worker was running this job.")
			reaped = append(reaped, cloneJob(*j))
		}
		if len(reaped) == 0 {
			return nil, nil
		}
		return encodeJobTable(t)
	})
	if err != nil {
		return nil, err
	}
	return reaped, nil
}

// release hands a claimed job back when its attempt could not be recorded.
func (q *Queue) release(ctx context.Context, id string) error {
	_, err := store.Update(ctx, q.st, store.DocJobs, newJobTable, func(t *jobTable) (struct{}, error) {
		i := t.indexOf(id)
		if i < 0 {
			return struct{}{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if j := &t.Jobs[i]; j.State == StateProcessing {
			now := q.now().UTC()
			j.State = StatePending
			j.UpdatedAt = now
			j.logf(now, "Released: the attempt could not be recorded.")
		}
		return struct{}{}, nil
	})
	return err
}
