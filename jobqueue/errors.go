package jobqueue

import (
	"errors"
)

var (
	// ErrJobNotFound means Update was handed a job id that is not in the table.
	// Callers only get here through a logic bug, never through normal scheduling.
	ErrJobNotFound = errors.New("jobqueue: job not found")

	// ErrInvalidArgument covers bad commands, priorities, states and config values.
	ErrInvalidArgument = errors.New("jobqueue: invalid argument")
)
