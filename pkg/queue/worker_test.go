package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = 1 * time.Second
	cfg.PollIntervalJitter = 500 * time.Millisecond
	return cfg
}

func TestJitteredInterval(t *testing.T) {
	// Interval stays within [base - jitter, base + jitter].
	for i := 0; i < 100; i++ {
		d := jitteredInterval(time.Second, 500*time.Millisecond)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestJitteredIntervalNoJitter(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Second, jitteredInterval(time.Second, 0))
	}
}

func TestJitteredIntervalNeverNegative(t *testing.T) {
	// Jitter wider than the base clamps at zero instead of going negative.
	for i := 0; i < 100; i++ {
		d := jitteredInterval(100*time.Millisecond, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestWorkerHealthSnapshot(t *testing.T) {
	w := NewWorker("pod-1-face-0", models.StudioFace, nil, testQueueConfig(), nil, nil, nil)

	h := w.Health()
	assert.Equal(t, "pod-1-face-0", h.ID)
	assert.Equal(t, "face", h.Studio)
	assert.Zero(t, h.Inflight)
	assert.Zero(t, h.JobsProcessed)

	w.setInflight(3)
	w.bump()
	h = w.Health()
	assert.Equal(t, 3, h.Inflight)
	assert.Equal(t, int64(1), h.JobsProcessed)
	assert.False(t, h.LastActivity.IsZero())
}

func TestBackoffSchedule(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	cfg.BackoffBase = 5 * time.Second
	cfg.BackoffCap = 5 * time.Minute

	assert.Equal(t, 5*time.Second, cfg.Backoff(0), "attempt below 1 is treated as the first")
	assert.Equal(t, 5*time.Second, cfg.Backoff(1))
	assert.Equal(t, 10*time.Second, cfg.Backoff(2))
	assert.Equal(t, 40*time.Second, cfg.Backoff(4))
	assert.Equal(t, 5*time.Minute, cfg.Backoff(12), "delay is capped")
}
