package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Document names one independently locked document.
type Document string

const (
	DocJobs    Document = "jobs"
	DocConfig  Document = "config"
	DocWorkers Document = "workers"
)

var (
	// ErrLockTimeout means the document lock could not be acquired within the retry budget.
	ErrLockTimeout = errors.New("store: lock timeout")

	ErrClosed = errors.New("store: closed")

	// ErrLockLost means the lock was reclaimed by someone else before the write.
	ErrLockLost = errors.New("store: lock lost")
)

// Store is the only mutation seam for persisted documents.
//
// Transaction locks doc, hands fn the current snapshot (nil if the document has never
// been written) and writes back whatever fn returns. A nil result leaves the document
// untouched. If fn returns an error nothing is written and the error is returned as is.
type Store interface {
	Transaction(ctx context.Context, doc Document, fn func(current []byte) ([]byte, error)) error
	Read(ctx context.Context, doc Document) ([]byte, error)
	Close() error
}

// LockOptions bound lock acquisition.
type LockOptions struct {
	// Stale is the age after which a held lock is considered abandoned.
	Stale time.Duration
	// MaxHold is how long a holder keeps its lock fresh. A holder stuck for longer
	// lets the lock go stale.
	MaxHold time.Duration

	Retries         uint64
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Stale:           15 * time.Second,
		MaxHold:         time.Minute,
		Retries:         5,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      3,
		MaxInterval:     2 * time.Second,
	}
}

func (o *LockOptions) setDefaults() {
	d := DefaultLockOptions()
	if o.Stale <= 0 {
		o.Stale = d.Stale
	}
	if o.MaxHold <= 0 {
		o.MaxHold = d.MaxHold
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.Multiplier < 1 {
		o.Multiplier = d.Multiplier
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
}

func (o LockOptions) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.InitialInterval
	b.Multiplier = o.Multiplier
	b.MaxInterval = o.MaxInterval
	// Contenders that start together must not retry in lockstep.
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, o.Retries), ctx)
}

// errBusy is returned by a single acquisition attempt when someone else holds the lock.
var errBusy = errors.New("store: lock busy")

// acquire retries try until it succeeds, fails with something other than errBusy or the budget runs out.
func acquire(ctx context.Context, opts LockOptions, doc Document, try func() error) error {
	err := backoff.Retry(func() error {
		err := try()
		if err == nil || errors.Is(err, errBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, opts.backOff(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, errBusy) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, doc)
	}
	return err
}

// Update decodes doc into a T (starting from init() when the document is empty), lets fn
// mutate it and persists the result. The value fn returns is passed through.
func Update[T, R any](ctx context.Context, s Store, doc Document, init func() T, fn func(*T) (R, error)) (R, error) {
	var result R
	err := s.Transaction(ctx, doc, func(current []byte) ([]byte, error) {
		v, err := decode(current, init)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc, err)
		}
		r, err := fn(&v)
		if err != nil {
			return nil, err
		}
		result = r
		return json.MarshalIndent(v, "", "  ")
	})
	return result, err
}

// View reads doc under its lock and decodes it.
func View[T any](ctx context.Context, s Store, doc Document, init func() T) (T, error) {
	data, err := s.Read(ctx, doc)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := decode(data, init)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", doc, err)
	}
	return v, nil
}

func decode[T any](data []byte, init func() T) (T, error) {
	var v T
	if init != nil {
		v = init()
	}
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
