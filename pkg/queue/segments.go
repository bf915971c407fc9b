package queue

import (
	"context"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/skylark-media/atelier/pkg/models"
)

// segmentLoop drains long-form segments. The claim query enforces the
// per-parent in-flight cap and the parent-running guard, so the loop itself
// only polls and fans out.
func (p *WorkerPool) segmentLoop(ctx context.Context) {
	defer p.wg.Done()
	claimedBy := p.podID + "-segments"
	p.logger.InfoContext(ctx, "segment loop started", "claimed_by", claimedBy)

	for {
		if p.stopping(ctx) {
			return
		}

		segs, err := p.stores.Longform.ClaimSegments(ctx, claimedBy,
			p.cfg.Longform.SegmentBatchSize, p.cfg.Longform.MaxInflightPerJob)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "segment claim failed", "error", err)
			p.sleep(errorBackoff)
			continue
		}
		if len(segs) == 0 {
			p.sleep(jitteredInterval(p.cfg.Queue.PollInterval, p.cfg.Queue.PollIntervalJitter))
			continue
		}

		g := &errgroup.Group{}
		g.SetLimit(p.cfg.Queue.MaxInflight)
		for _, seg := range segs {
			g.Go(func() error {
				p.processSegment(ctx, seg)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// processSegment runs one segment attempt. The processor persists every
// outcome itself; panics release the claim so another attempt can run.
func (p *WorkerPool) processSegment(ctx context.Context, seg *models.LongformSegment) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "segment processor panicked",
				"segment_id", seg.ID, "parent_job_id", seg.ParentJobID,
				"panic", r, "stack", string(debug.Stack()))
			bg, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := p.stores.Longform.ReleaseSegment(bg, seg.ID); err != nil {
				p.logger.ErrorContext(ctx, "releasing panicked segment failed",
					"segment_id", seg.ID, "error", err)
			}
		}
	}()

	segCtx, cancel := context.WithTimeout(ctx, p.cfg.Queue.JobTimeout)
	defer cancel()

	if err := p.segments.Process(segCtx, seg); err != nil {
		p.logger.WarnContext(ctx, "segment attempt failed",
			"segment_id", seg.ID, "parent_job_id", seg.ParentJobID,
			"segment_index", seg.SegmentIndex, "error", err)
		return
	}
	p.logger.InfoContext(ctx, "segment complete",
		"segment_id", seg.ID, "parent_job_id", seg.ParentJobID,
		"segment_index", seg.SegmentIndex)
}
