package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// stitchLoop claims long-form parents handed to stitching by their last
// segment and runs the fan-in. One parent at a time per process; stitches
// are compose-bound, not queue-bound.
func (p *WorkerPool) stitchLoop(ctx context.Context) {
	defer p.wg.Done()
	claimedBy := p.podID + "-stitch"
	p.logger.InfoContext(ctx, "stitch loop started", "claimed_by", claimedBy)

	for {
		if p.stopping(ctx) {
			return
		}

		job, err := p.stores.Longform.ClaimStitchParent(ctx, claimedBy, p.cfg.Longform.StitchStaleAfter)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				p.sleep(jitteredInterval(p.cfg.Queue.PollInterval, p.cfg.Queue.PollIntervalJitter))
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "stitch claim failed", "error", err)
			p.sleep(errorBackoff)
			continue
		}
		p.stitchOne(ctx, job)
	}
}

// stitchOne runs the fan-in for one claimed parent, heartbeating the row for
// the duration so the stale claim guard does not re-expose it mid-stitch.
func (p *WorkerPool) stitchOne(ctx context.Context, job *models.Job) {
	stopHeartbeat := p.heartbeatStitch(ctx, job.ID)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "stitcher panicked",
				"job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			bg, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := p.stores.Jobs.Finish(bg, job.ID, models.JobFailed,
				models.CodeWorkerCrash, fmt.Sprint(r)); err != nil {
				p.logger.ErrorContext(ctx, "failing panicked stitch parent failed",
					"job_id", job.ID, "error", err)
			}
		}
	}()

	stitchCtx, cancel := context.WithTimeout(ctx, p.cfg.Longform.StitchTimeout)
	defer cancel()

	if err := p.stitcher.Stitch(stitchCtx, job); err != nil {
		p.logger.ErrorContext(ctx, "stitch failed", "job_id", job.ID, "error", err)
		return
	}
	if rec, err := p.stores.Longform.Get(ctx, job.ID); err == nil {
		p.metrics.RecordSegmentsStitched(ctx, rec.TotalSegments)
	}
}

// heartbeatStitch keeps the stitching parent's heartbeat fresh until the
// returned stop function runs.
func (p *WorkerPool) heartbeatStitch(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Queue.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.stores.Jobs.Heartbeat(ctx, []uuid.UUID{jobID}); err != nil {
					p.logger.WarnContext(ctx, "stitch heartbeat failed",
						"job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
