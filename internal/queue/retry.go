package queue

import (
	"math"
	"time"

	"intake/internal/config"
	"intake/internal/models"
)

// RetryPolicy defines the retry ceiling and optional exponential backoff.
// A zero InitialDelay disables backoff: failed tasks are eligible again on
// the next drain pass.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig builds a RetryPolicy from the queue config section.
func PolicyFromConfig(cfg config.QueueConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = models.DefaultMaxRetries
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = 2
	}
	return r
}

// BackoffEnabled reports whether failed tasks wait before their next attempt.
func (r RetryPolicy) BackoffEnabled() bool {
	return r.InitialDelay > 0
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if !r.BackoffEnabled() {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := r.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// Ready reports whether a task may be attempted at now.
func (r RetryPolicy) Ready(task models.Task, now time.Time) bool {
	if !r.BackoffEnabled() || task.RetryCount == 0 || task.LastAttemptAt == nil {
		return true
	}
	return !now.Before(task.LastAttemptAt.Add(r.NextDelay(task.RetryCount)))
}
