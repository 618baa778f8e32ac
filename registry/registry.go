// Package registry tracks live worker processes and the job each one is running.
// Every worker owns its own entry; readers drop entries whose pid no longer exists.
package registry

import (
	"context"
	"slices"

	"github.com/shirou/gopsutil/v4/process"

	"queuectl/store"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
)

type WorkerStatus struct {
	PID    int     `json:"pid"`
	Status Status  `json:"status"`
	JobID  *string `json:"jobId"`
}

// AliveFunc reports whether a process with the given pid exists.
type AliveFunc func(ctx context.Context, pid int) bool

// PidExists is the default liveness probe. It never signals the process.
func PidExists(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}

type Registry struct {
	st    store.Store
	alive AliveFunc
}

type Options struct {
	Alive AliveFunc
}

func New(st store.Store, opts Options) *Registry {
	if opts.Alive == nil {
		opts.Alive = PidExists
	}
	return &Registry{st: st, alive: opts.Alive}
}

func empty() []WorkerStatus { return []WorkerStatus{} }

// Register adds pid as an idle worker, replacing any previous entry for it.
func (r *Registry) Register(ctx context.Context, pid int) error {
	return r.set(ctx, pid, StatusIdle, nil)
}

func (r *Registry) SetProcessing(ctx context.Context, pid int, jobID string) error {
	return r.set(ctx, pid, StatusProcessing, &jobID)
}

func (r *Registry) SetIdle(ctx context.Context, pid int) error {
	return r.set(ctx, pid, StatusIdle, nil)
}

func (r *Registry) set(ctx context.Context, pid int, status Status, jobID *string) error {
	_, err := store.Update(ctx, r.st, store.DocWorkers, empty, func(ws *[]WorkerStatus) (struct{}, error) {
		for i := range *ws {
			if (*ws)[i].PID == pid {
				(*ws)[i].Status = status
				(*ws)[i].JobID = jobID
				return struct{}{}, nil
			}
		}
		*ws = append(*ws, WorkerStatus{PID: pid, Status: status, JobID: jobID})
		return struct{}{}, nil
	})
	return err
}

func (r *Registry) Deregister(ctx context.Context, pid int) error {
	_, err := store.Update(ctx, r.st, store.DocWorkers, empty, func(ws *[]WorkerStatus) (struct{}, error) {
		*ws = slices.DeleteFunc(*ws, func(w WorkerStatus) bool { return w.PID == pid })
		return struct{}{}, nil
	})
	return err
}

// List returns the live workers and persists the removal of dead ones.
func (r *Registry) List(ctx context.Context) ([]WorkerStatus, error) {
	return store.Update(ctx, r.st, store.DocWorkers, empty, func(ws *[]WorkerStatus) ([]WorkerStatus, error) {
		*ws = slices.DeleteFunc(*ws, func(w WorkerStatus) bool { return !r.alive(ctx, w.PID) })
		return slices.Clone(*ws), nil
	})
}

// Clear empties the registry and returns what it held.
func (r *Registry) Clear(ctx context.Context) ([]WorkerStatus, error) {
	return store.Update(ctx, r.st, store.DocWorkers, empty, func(ws *[]WorkerStatus) ([]WorkerStatus, error) {
		prev := *ws
		*ws = empty()
		return prev, nil
	})
}

// ActiveJobs maps the job ids currently held by live workers to their pid.
func ActiveJobs(ws []WorkerStatus) map[string]int {
	out := make(map[string]int, len(ws))
	for _, w := range ws {
		if w.Status == StatusProcessing && w.JobID != nil {
			out[*w.JobID] = w.PID
		}
	}
	return out
}
