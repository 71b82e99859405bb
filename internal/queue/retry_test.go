package queue

import (
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4))
}

func TestRetryPolicyDisabledBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}

	assert.False(t, p.BackoffEnabled())
	assert.Zero(t, p.NextDelay(2))

	at := time.Now()
	assert.True(t, p.Ready(models.Task{RetryCount: 2, LastAttemptAt: &at}, at))
}

func TestRetryPolicyReady(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Minute, BackoffFactor: 2}
	last := time.Now()
	task := models.Task{RetryCount: 1, LastAttemptAt: &last}

	assert.True(t, p.Ready(models.Task{}, last), "never attempted tasks are always ready")
	assert.False(t, p.Ready(task, last.Add(30*time.Second)))
	assert.True(t, p.Ready(task, last.Add(time.Minute)))

	task.RetryCount = 2
	assert.False(t, p.Ready(task, last.Add(90*time.Second)))
	assert.True(t, p.Ready(task, last.Add(2*time.Minute)))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.QueueConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 3})

	assert.Equal(t, RetryPolicy{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 3}, p)
	assert.Equal(t, models.DefaultMaxRetries, RetryPolicy{}.withDefaults().MaxRetries)
}
