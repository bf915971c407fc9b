// Package queue runs the polling workers that drain the jobs table. Workers
// coordinate exclusively through the skip-locked claim, so any number of
// processes can run the same pool against one database without stepping on
// each other.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/observe"
	"github.com/skylark-media/atelier/pkg/store"
	"github.com/skylark-media/atelier/pkg/studio"
)

// errorBackoff is the pause after a failed poll before the next attempt.
const errorBackoff = 1 * time.Second

// finishTimeout bounds the outcome write after a job finishes. It uses a
// fresh context so shutdown mid-job still records the result.
const finishTimeout = 30 * time.Second

// Worker polls one studio partition, claims batches of due jobs, and runs
// them through the studio processor. Claimed jobs are heartbeated for the
// duration of the batch; a worker that dies mid-batch leaves rows for the
// stale reclaim to recover.
type Worker struct {
	id        string
	studio    models.StudioType
	cfg       *config.QueueConfig
	jobs      *store.JobStore
	processor studio.Processor
	metrics   *observe.Metrics
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.Mutex
	inflight      int
	jobsProcessed int64
	lastActivity  time.Time
}

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Studio        string    `json:"studio"`
	Inflight      int       `json:"inflight"`
	JobsProcessed int64     `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

// NewWorker creates a worker for one studio partition. The id becomes
// claimed_by on every job the worker touches and must be unique per process.
func NewWorker(id string, studioType models.StudioType, processor studio.Processor,
	cfg *config.QueueConfig, jobs *store.JobStore, metrics *observe.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		id:        id,
		studio:    studioType,
		cfg:       cfg,
		jobs:      jobs,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop and waits for in-flight jobs up to the graceful
// shutdown timeout.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.GracefulShutdownTimeout):
		w.logger.Warn("worker shutdown timed out with jobs in flight",
			"worker_id", w.id, "studio", w.studio)
	}
}

// Health returns a snapshot of the worker's activity counters.
func (w *Worker) Health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:            w.id,
		Studio:        string(w.studio),
		Inflight:      w.inflight,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.InfoContext(ctx, "worker started", "worker_id", w.id, "studio", w.studio)

	for {
		select {
		case <-w.stopCh:
			w.logger.InfoContext(ctx, "worker stopped", "worker_id", w.id, "studio", w.studio)
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.pollAndProcess(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.ErrorContext(ctx, "poll failed",
				"worker_id", w.id, "studio", w.studio, "error", err)
			w.sleep(errorBackoff)
			continue
		}
		if n == 0 {
			w.sleep(w.pollInterval())
		}
	}
}

// pollAndProcess claims one batch and processes it in parallel, bounded by
// max_inflight. The batch heartbeat keeps every claimed row fresh until all
// members finished.
func (w *Worker) pollAndProcess(ctx context.Context) (int, error) {
	claimed, err := w.jobs.ClaimBatch(ctx, w.studio, w.cfg.BatchSize, w.id)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	w.setInflight(len(claimed))
	defer w.setInflight(0)

	ids := make([]uuid.UUID, len(claimed))
	for i, j := range claimed {
		ids[i] = j.ID
	}
	stopHeartbeat := w.heartbeatBatch(ctx, ids)
	defer stopHeartbeat()

	g := &errgroup.Group{}
	g.SetLimit(w.cfg.MaxInflight)
	for _, job := range claimed {
		g.Go(func() error {
			w.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// processJob runs one job through the processor and records the outcome.
// Panics become terminal WORKER_CRASH failures instead of taking the worker
// down.
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "processor panicked",
				"worker_id", w.id, "job_id", job.ID, "studio", w.studio,
				"panic", r, "stack", string(debug.Stack()))
			w.finish(job.ID, models.JobFailed, models.CodeWorkerCrash, fmt.Sprint(r))
			w.metrics.RecordJobProcessed(ctx, string(w.studio), string(models.JobFailed))
		}
	}()

	w.logger.InfoContext(ctx, "processing job",
		"worker_id", w.id, "job_id", job.ID, "studio", w.studio, "attempt", job.AttemptCount)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	res := w.processor.Process(jobCtx, job)
	w.applyResult(ctx, job, res)
	w.bump()
	w.metrics.RecordJobProcessed(ctx, string(w.studio), string(res.Status))
}

// applyResult writes the processor outcome to the row. ErrInvalidState means
// the row moved underneath us, a reclaim or a cancel won the race, and the
// outcome is dropped on purpose.
func (w *Worker) applyResult(ctx context.Context, job *models.Job, res studio.Result) {
	var err error
	switch res.Status {
	case models.JobSucceeded, models.JobFailed, models.JobStitching:
		err = w.finish(job.ID, res.Status, res.Code, res.Message)
	case models.JobQueued:
		err = w.requeue(job.ID, res.Delay, res.Code, res.Message)
	case models.JobRunning:
		// Parked on a required user action. The row keeps its claim; once
		// heartbeats lapse the stale reclaim requeues it and the processor
		// re-parks idempotently.
		w.logger.InfoContext(ctx, "job parked",
			"worker_id", w.id, "job_id", job.ID, "studio", w.studio)
	case models.JobCanceled:
		// Cancellation already landed on the row; nothing to write.
	default:
		err = fmt.Errorf("processor returned unexpected status %q", res.Status)
	}
	if err != nil {
		w.logger.WarnContext(ctx, "recording job outcome failed",
			"worker_id", w.id, "job_id", job.ID, "status", res.Status, "error", err)
		return
	}
	if res.Status == models.JobFailed || res.Status == models.JobQueued {
		w.logger.WarnContext(ctx, "job attempt failed",
			"worker_id", w.id, "job_id", job.ID, "studio", w.studio,
			"status", res.Status, "code", res.Code, "message", res.Message)
	}
}

// finish and requeue run on a background context so outcomes survive the
// polling context being canceled during shutdown.
func (w *Worker) finish(id uuid.UUID, to models.JobStatus, code, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	return w.jobs.Finish(ctx, id, to, code, message)
}

func (w *Worker) requeue(id uuid.UUID, delay time.Duration, code, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	return w.jobs.Requeue(ctx, id, delay, code, message)
}

// heartbeatBatch refreshes heartbeat_at on the claimed ids until the
// returned stop function is called.
func (w *Worker) heartbeatBatch(ctx context.Context, ids []uuid.UUID) func() {
	done := make(chan struct{})
	var once sync.Once

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Heartbeat(ctx, ids); err != nil {
					w.logger.WarnContext(ctx, "batch heartbeat failed",
						"worker_id", w.id, "jobs", len(ids), "error", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (w *Worker) pollInterval() time.Duration {
	return jitteredInterval(w.cfg.PollInterval, w.cfg.PollIntervalJitter)
}

// jitteredInterval randomizes base by ±jitter so pollers across replicas do
// not claim in lockstep.
func jitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	d := base - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
	if d < 0 {
		return 0
	}
	return d
}

// sleep waits for d or until the worker is stopped.
func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
	case <-timer.C:
	}
}

func (w *Worker) setInflight(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight = n
	w.lastActivity = time.Now().UTC()
}

func (w *Worker) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobsProcessed++
	w.lastActivity = time.Now().UTC()
}
