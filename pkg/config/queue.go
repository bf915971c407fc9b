package config

import "time"

// QueueConfig controls how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkersPerStudio is the number of worker goroutines per studio type.
	WorkersPerStudio int `yaml:"workers_per_studio"`

	// BatchSize is the maximum number of jobs claimed per poll.
	BatchSize int `yaml:"batch_size"`

	// MaxInflight bounds how many claimed jobs one worker processes in
	// parallel.
	MaxInflight int `yaml:"max_inflight"`

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes PollInterval to de-synchronize workers.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum wall time for processing one job.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight jobs
	// during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes heartbeat_at on the
	// jobs it is processing, and how often the pool logs due_count.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StaleAfter re-queues jobs stuck in running with no heartbeat for this
	// long. Zero disables stale reclaim.
	StaleAfter time.Duration `yaml:"stale_after"`

	// ReclaimInterval is how often the stale-reclaim scan runs.
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`

	// BackoffBase and BackoffCap bound the requeue delay:
	// delay = BackoffBase * 2^(attempt-1), capped at BackoffCap.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkersPerStudio:        2,
		BatchSize:               5,
		MaxInflight:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		HeartbeatInterval:       15 * time.Second,
		StaleAfter:              0, // disabled unless configured
		ReclaimInterval:         1 * time.Minute,
		BackoffBase:             5 * time.Second,
		BackoffCap:              5 * time.Minute,
	}
}

// Backoff returns the requeue delay for the given attempt (1-based),
// doubling from BackoffBase and capped at BackoffCap.
func (c *QueueConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	if d > c.BackoffCap {
		return c.BackoffCap
	}
	return d
}
