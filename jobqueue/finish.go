package jobqueue

import (
	"math"
	"strings"
	"time"
)

const maxBackoff = 365 * 24 * time.Hour

// backoffDelay is base^attempts seconds. Absurd results are capped, and the delay is
// never zero so a retry_at always lies strictly after the time it was set.
func backoffDelay(base float64, attempts int) time.Duration {
	secs := math.Pow(base, float64(attempts))
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs > maxBackoff.Seconds() {
		return maxBackoff
	}
	d := time.Duration(secs * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// finish applies the result of one attempt to job. cfg is the configuration read after
// the command returned.
func finish(job *Job, res Result, cfg Config, timeout time.Duration, now time.Time) {
	if out := strings.TrimSpace(res.Stdout); out != "" {
		job.logf(now, "STDOUT: %s", out)
	}
	if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
		job.logf(now, "STDERR: %s", errOut)
	}

	switch {
	case res.Succeeded():
		job.State = StateCompleted
		job.RetryAt = nil
		job.logf(now, "Command completed successfully.")
		return
	case res.TimedOut:
		job.logf(now, "Command execution timeout (%s).", timeout)
	case res.Err != nil:
		job.logf(now, "Command could not be started: %v", res.Err)
	default:
		job.logf(now, "Command failed with exit code %d.", res.ExitCode)
	}

	if job.Attempts >= job.MaxRetries {
		job.State = StateDead
		job.RetryAt = nil
		job.logf(now, "Job moved to DLQ after %d failed attempts.", job.Attempts)
		return
	}

	delay := backoffDelay(cfg.BackoffBase, job.Attempts)
	at := now.Add(delay)
	job.State = StatePending
	job.RetryAt = &at
	job.logf(now, "Scheduled for retry in %s.", delay.Round(time.Millisecond))
}

// fallback is recorded when the outcome itself could not be persisted.
func fallback(job *Job, cause error, cfg Config, now time.Time) {
	at := now.Add(backoffDelay(cfg.BackoffBase, job.Attempts))
	job.State = StatePending
	job.RetryAt = &at
	job.logf(now, "Internal error: %v", cause)
}
