package jobqueue

import (
	"cmp"
	"context"
	"slices"
	"time"

	"queuectl/store"
)

// DequeueNext picks the next ready job and marks it processing in the same transaction,
// so two callers can never get the same job. It returns nil when nothing is ready.
//
// Ready jobs are ordered by priority band (high, medium, low) and then by eligibility
// time (retry_at if set, else created_at), oldest first. Exact ties keep storage order.
func (q *Queue) DequeueNext(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := q.st.Transaction(ctx, store.DocJobs, func(current []byte) ([]byte, error) {
		t, err := decodeJobTable(current)
		if err != nil {
			return nil, err
		}

		now := q.now().UTC()
		i, ok := next(t.Jobs, now)
		if !ok {
			// Idle polls must not rewrite the table.
			return nil, nil
		}

		head := &t.Jobs[i]
		head.State = StateProcessing
		head.UpdatedAt = now

		job := cloneJob(*head)
		claimed = &job
		return encodeJobTable(t)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// next returns the index of the job that should run first.
func next(jobs []Job, now time.Time) (int, bool) {
	var candidates []int
	for i, j := range jobs {
		if j.ready(now) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}

	slices.SortStableFunc(candidates, func(a, b int) int {
		ja, jb := jobs[a], jobs[b]
		if c := cmp.Compare(ja.Priority.rank(), jb.Priority.rank()); c != 0 {
			return c
		}
		return ja.eligibleAt().Compare(jb.eligibleAt())
	})
	return candidates[0], true
}
