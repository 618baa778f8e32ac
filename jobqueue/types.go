package jobqueue

import (
	"context"
	"fmt"
	"time"
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	// StateFailed is accepted everywhere a state is but no transition produces it.
	StateFailed State = "failed"
	StateDead   State = "dead"
)

// States lists every job state in display order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, s)
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps the empty string to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, s)
	}
}

// rank orders priority bands, lowest first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

type Job struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	State      State      `json:"state"`
	Priority   Priority   `json:"priority"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	RetryAt    *time.Time `json:"retry_at,omitempty"`
	Log        []string   `json:"log"`
}

// eligibleAt is the time used to order jobs inside one priority band.
func (j Job) eligibleAt() time.Time {
	if j.RetryAt != nil {
		return *j.RetryAt
	}
	return j.CreatedAt
}

func (j Job) ready(now time.Time) bool {
	return j.State == StatePending && (j.RetryAt == nil || !j.RetryAt.After(now))
}

func (j *Job) logf(now time.Time, format string, args ...any) {
	j.Log = append(j.Log, fmt.Sprintf("[%s] ", now.UTC().Format(time.RFC3339Nano))+fmt.Sprintf(format, args...))
}

// Result is the outcome of running one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	// Err is set when the command could not be run at all.
	Err error
}

func (r Result) Succeeded() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

// Executor runs a command string. It must return once timeout has elapsed.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) Result
}

type Logger interface {
	Printf(format string, args ...any)
}
