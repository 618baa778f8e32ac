package jobqueue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"queuectl/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func intp(n int) *int { return &n }

type QueueSuite struct {
	suite.Suite

	st    *store.MemoryStore
	clock *fakeClock
	q     *Queue
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupTest() {
	s.st = store.NewMemoryStore()
	s.clock = newFakeClock()
	s.q = NewQueue(s.st, WithClock(s.clock.Now))
}

func (s *QueueSuite) ctx() context.Context { return s.T().Context() }

func (s *QueueSuite) enqueue(cmd string, p Priority, retries *int) Job {
	j, err := s.q.Enqueue(s.ctx(), cmd, p, retries)
	s.Require().NoError(err)
	return j
}

// put replaces the whole job table, for tests that need fixed ids.
func (s *QueueSuite) put(jobs ...Job) {
	_, err := store.Update(s.ctx(), s.st, store.DocJobs, newJobTable, func(t *jobTable) (struct{}, error) {
		t.Jobs = jobs
		return struct{}{}, nil
	})
	s.Require().NoError(err)
}

func (s *QueueSuite) TestEnqueueThenGetByID() {
	j := s.enqueue("echo hi", "", nil)

	s.Run("defaults", func() {
		s.Require().Equal(StatePending, j.State)
		s.Require().Equal(PriorityMedium, j.Priority)
		s.Require().Equal(0, j.Attempts)
		s.Require().Equal(3, j.MaxRetries)
		s.Require().Nil(j.RetryAt)
		s.Require().Len(j.Log, 1)
		s.Require().Contains(j.Log[0], "Job created.")
	})

	s.Run("exact id", func() {
		got, err := s.q.GetByID(s.ctx(), j.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Require().Equal(j.ID, got.ID)
		s.Require().Equal(StatePending, got.State)
		s.Require().Equal(0, got.Attempts)
	})

	s.Run("prefix", func() {
		got, err := s.q.GetByID(s.ctx(), j.ID[:8])
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Require().Equal(j.ID, got.ID)
	})

	s.Run("unknown and empty", func() {
		got, err := s.q.GetByID(s.ctx(), "zzzz")
		s.Require().NoError(err)
		s.Require().Nil(got)

		got, err = s.q.GetByID(s.ctx(), "")
		s.Require().NoError(err)
		s.Require().Nil(got)
	})
}

func (s *QueueSuite) TestEnqueueValidation() {
	_, err := s.q.Enqueue(s.ctx(), "  ", PriorityHigh, nil)
	s.Require().ErrorIs(err, ErrInvalidArgument)

	_, err = s.q.Enqueue(s.ctx(), "true", "urgent", nil)
	s.Require().ErrorIs(err, ErrInvalidArgument)

	_, err = s.q.Enqueue(s.ctx(), "true", PriorityLow, intp(0))
	s.Require().ErrorIs(err, ErrInvalidArgument)

	all, err := s.q.GetByState(s.ctx(), StateAll)
	s.Require().NoError(err)
	s.Require().Empty(all)
}

func (s *QueueSuite) TestEnqueueUsesConfiguredDefault() {
	_, err := s.q.SetConfig(s.ctx(), "max-retries", "5")
	s.Require().NoError(err)

	s.Require().Equal(5, s.enqueue("true", PriorityLow, nil).MaxRetries)
	s.Require().Equal(2, s.enqueue("true", PriorityLow, intp(2)).MaxRetries)
}

func (s *QueueSuite) TestPriorityDominance() {
	low := s.enqueue("low", PriorityLow, nil)
	s.clock.Advance(time.Second)
	med := s.enqueue("medium", PriorityMedium, nil)
	s.clock.Advance(time.Second)
	high := s.enqueue("high", PriorityHigh, nil)

	for _, want := range []string{high.ID, med.ID, low.ID} {
		got, err := s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Require().Equal(want, got.ID)
		s.Require().Equal(StateProcessing, got.State)
	}

	got, err := s.q.DequeueNext(s.ctx())
	s.Require().NoError(err)
	s.Require().Nil(got)
}

func (s *QueueSuite) TestEligibilityOrderWithinBand() {
	t0 := s.clock.Now()
	retryAt := t0.Add(10 * time.Second)
	future := t0.Add(time.Hour)

	s.put(
		Job{ID: "a", Command: "a", State: StatePending, Priority: PriorityMedium, MaxRetries: 3, CreatedAt: t0, UpdatedAt: t0, RetryAt: &retryAt, Log: []string{}},
		Job{ID: "b", Command: "b", State: StatePending, Priority: PriorityMedium, MaxRetries: 3, CreatedAt: t0.Add(time.Second), UpdatedAt: t0, Log: []string{}},
		Job{ID: "c", Command: "c", State: StatePending, Priority: PriorityMedium, MaxRetries: 3, CreatedAt: t0.Add(-time.Minute), UpdatedAt: t0, RetryAt: &future, Log: []string{}},
		Job{ID: "d", Command: "d", State: StatePending, Priority: PriorityMedium, MaxRetries: 3, CreatedAt: t0.Add(time.Second), UpdatedAt: t0, Log: []string{}},
	)

	s.Run("retry_at in the future is not eligible", func() {
		got, err := s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().Equal("b", got.ID, "a is gated by retry_at, b wins the tie with d by storage order")
	})

	s.clock.Advance(20 * time.Second)

	s.Run("earlier effective time first", func() {
		got, err := s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().Equal("d", got.ID, "d was created at t0+1s, a only became eligible at t0+10s")

		got, err = s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().Equal("a", got.ID)

		got, err = s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().Nil(got)
	})
}

func (s *QueueSuite) TestConcurrentDequeueYieldsDistinctJobs() {
	const jobs, callers = 5, 12
	for range jobs {
		s.enqueue("true", PriorityMedium, nil)
	}

	var (
		mu  sync.Mutex
		ids = map[string]int{}
	)
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			j, err := s.q.DequeueNext(context.Background())
			if err != nil || j == nil {
				return err
			}
			mu.Lock()
			ids[j.ID]++
			mu.Unlock()
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Require().Len(ids, jobs)
	for id, n := range ids {
		s.Require().Equal(1, n, "job %s dequeued more than once", id)
	}
}

func (s *QueueSuite) TestUpdate() {
	j := s.enqueue("true", PriorityHigh, nil)
	s.clock.Advance(time.Minute)

	j.Attempts = 2
	got, err := s.q.Update(s.ctx(), j)
	s.Require().NoError(err)
	s.Require().True(got.UpdatedAt.Equal(s.clock.Now()))

	stored, err := s.q.GetByID(s.ctx(), j.ID)
	s.Require().NoError(err)
	s.Require().Equal(2, stored.Attempts)

	_, err = s.q.Update(s.ctx(), Job{ID: "missing"})
	s.Require().ErrorIs(err, ErrJobNotFound)
}

func (s *QueueSuite) TestStatusSummaryAndGetByState() {
	s.enqueue("a", PriorityLow, nil)
	s.enqueue("b", PriorityLow, nil)
	_, err := s.q.DequeueNext(s.ctx())
	s.Require().NoError(err)

	sum, err := s.q.StatusSummary(s.ctx())
	s.Require().NoError(err)
	s.Require().Equal(map[State]int{
		StatePending:    1,
		StateProcessing: 1,
		StateCompleted:  0,
		StateFailed:     0,
		StateDead:       0,
	}, sum)

	pending, err := s.q.GetByState(s.ctx(), StatePending)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	dead, err := s.q.GetByState(s.ctx(), StateDead)
	s.Require().NoError(err)
	s.Require().NotNil(dead)
	s.Require().Empty(dead)

	_, err = s.q.GetByState(s.ctx(), "sleeping")
	s.Require().ErrorIs(err, ErrInvalidArgument)
}

func (s *QueueSuite) TestRetryDeadJob() {
	j := s.enqueue("false", PriorityMedium, intp(2))
	at := s.clock.Now().Add(time.Minute)
	j.State = StateDead
	j.Attempts = 2
	j.RetryAt = &at
	_, err := s.q.Update(s.ctx(), j)
	s.Require().NoError(err)

	other := s.enqueue("true", PriorityMedium, nil)

	s.Run("non dead job is untouched", func() {
		before, err := s.q.GetByID(s.ctx(), other.ID)
		s.Require().NoError(err)

		got, err := s.q.RetryDeadJob(s.ctx(), other.ID)
		s.Require().NoError(err)
		s.Require().Nil(got)

		after, err := s.q.GetByID(s.ctx(), other.ID)
		s.Require().NoError(err)
		s.Require().Equal(before, after)
	})

	s.Run("missing", func() {
		got, err := s.q.RetryDeadJob(s.ctx(), "nope")
		s.Require().NoError(err)
		s.Require().Nil(got)
	})

	s.Run("dead by prefix", func() {
		got, err := s.q.RetryDeadJob(s.ctx(), j.ID[:6])
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Require().Equal(j.ID, got.ID)
		s.Require().Equal(StatePending, got.State)
		s.Require().Equal(0, got.Attempts)
		s.Require().Nil(got.RetryAt)
		s.Require().Contains(got.Log[len(got.Log)-1], "Job manually retried from DLQ.")

		next, err := s.q.DequeueNext(s.ctx())
		s.Require().NoError(err)
		s.Require().Equal(j.ID, next.ID)
	})
}

func (s *QueueSuite) TestPrefixLookupPrefersExactThenStorageOrder() {
	now := s.clock.Now()
	mk := func(id string, st State) Job {
		return Job{ID: id, Command: "true", State: st, Priority: PriorityMedium, MaxRetries: 1, CreatedAt: now, UpdatedAt: now, Log: []string{}}
	}
	s.put(mk("abc-2", StateDead), mk("abc", StateCompleted), mk("abc-1", StateDead))

	got, err := s.q.GetByID(s.ctx(), "abc")
	s.Require().NoError(err)
	s.Require().Equal("abc", got.ID)

	got, err = s.q.GetByID(s.ctx(), "abc-")
	s.Require().NoError(err)
	s.Require().Equal("abc-2", got.ID)

	// The exact match is not dead, so the first dead prefix match is retried.
	got, err = s.q.RetryDeadJob(s.ctx(), "abc")
	s.Require().NoError(err)
	s.Require().Equal("abc-2", got.ID)
}

func (s *QueueSuite) TestSetConfig() {
	cfg, err := s.q.Config(s.ctx())
	s.Require().NoError(err)
	s.Require().Equal(DefaultConfig(), cfg)

	cfg, err = s.q.SetConfig(s.ctx(), "backoffBase", "3.5")
	s.Require().NoError(err)
	s.Require().Equal(3.5, cfg.BackoffBase)
	s.Require().Equal(3, cfg.MaxRetries)

	for _, tc := range []struct{ key, value string }{
		{"maxRetries", "0"},
		{"maxRetries", "two"},
		{"backoffBase", "0"},
		{"backoffBase", "-1"},
		{"backoffBase", "NaN"},
		{"backoffBase", "+Inf"},
		{"colour", "blue"},
	} {
		_, err := s.q.SetConfig(s.ctx(), tc.key, tc.value)
		s.Require().ErrorIs(err, ErrInvalidArgument, "%s=%s", tc.key, tc.value)
	}

	cfg, err = s.q.Config(s.ctx())
	s.Require().NoError(err)
	s.Require().Equal(Config{MaxRetries: 3, BackoffBase: 3.5}, cfg)
}

func (s *QueueSuite) TestReapOrphaned() {
	now := s.clock.Now()
	old := now.Add(-10 * time.Minute)
	mk := func(id string, st State, updated time.Time) Job {
		return Job{ID: id, Command: "sleep 1", State: st, Priority: PriorityMedium, Attempts: 1, MaxRetries: 3, CreatedAt: old, UpdatedAt: updated, Log: []string{}}
	}
	s.put(
		mk("owned", StateProcessing, old),
		mk("orphan", StateProcessing, old),
		mk("fresh", StateProcessing, now.Add(-time.Second)),
		mk("waiting", StatePending, old),
	)

	reaped, err := s.q.ReapOrphaned(s.ctx(), map[string]int{"owned": 4242}, 2*time.Minute)
	s.Require().NoError(err)
	s.Require().Len(reaped, 1)
	s.Require().Equal("orphan", reaped[0].ID)
	s.Require().Equal(StatePending, reaped[0].State)
	s.Require().Equal(1, reaped[0].Attempts)
	s.Require().True(strings.HasSuffix(reaped[0].Log[0], "Requeued: no live worker was running this job."))

	sum, err := s.q.StatusSummary(s.ctx())
	s.Require().NoError(err)
	s.Require().Equal(2, sum[StateProcessing])
	s.Require().Equal(2, sum[StatePending])
}

func TestBackoffDelay(t *testing.T) {
	for _, tc := range []struct {
		base     float64
		attempts int
		want     time.Duration
	}{
		{2, 1, 2 * time.Second},
		{2, 3, 8 * time.Second},
		{1.5, 2, 2250 * time.Millisecond},
		{0.5, 10, time.Millisecond},
		{10, 400, maxBackoff},
	} {
		if got := backoffDelay(tc.base, tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", tc.base, tc.attempts, got, tc.want)
		}
	}
}

func (s *QueueSuite) TestApplyConfigIsAllOrNothing() {
	_, err := s.q.ApplyConfig(s.ctx(),
		ConfigChange{Key: "maxRetries", Value: "7"},
		ConfigChange{Key: "backoffBase", Value: "-2"},
	)
	s.Require().ErrorIs(err, ErrInvalidArgument)

	cfg, err := s.q.Config(s.ctx())
	s.Require().NoError(err)
	s.Require().Equal(DefaultConfig(), cfg)

	cfg, err = s.q.ApplyConfig(s.ctx(),
		ConfigChange{Key: "maxRetries", Value: "7"},
		ConfigChange{Key: "backoff-base", Value: "1.5"},
	)
	s.Require().NoError(err)
	s.Require().Equal(Config{MaxRetries: 7, BackoffBase: 1.5}, cfg)
}

// Many pollers starting at once against the file backend must all get through the
// default lock budget.
func TestConcurrentDequeueOnFileStore(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), store.DefaultLockOptions())
	require.NoError(t, err)
	q := NewQueue(st)

	const jobs, callers = 10, 16
	for range jobs {
		_, err := q.Enqueue(t.Context(), "true", PriorityMedium, intp(1))
		require.NoError(t, err)
	}

	var (
		mu  sync.Mutex
		ids = map[string]int{}
	)
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			j, err := q.DequeueNext(context.Background())
			if err != nil || j == nil {
				return err
			}
			mu.Lock()
			ids[j.ID]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, ids, jobs)
	for id, n := range ids {
		require.Equal(t, 1, n, "job %s dequeued more than once", id)
	}
}
