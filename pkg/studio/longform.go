package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// LongformProcessor is the fan-out half of the long-form coordinator. On the
// parent's first claim it chunks the script and inserts the segment rows;
// the segment sub-pipeline and the stitcher then drive the build through the
// store. The parent job stays running until its last segment completes, at
// which point CompleteSegment hands it to the stitcher.
type LongformProcessor struct {
	d *Deps
}

// NewLongformProcessor creates the long-form processor.
func NewLongformProcessor(d *Deps) *LongformProcessor {
	return &LongformProcessor{d: d}
}

// Process implements Processor.
func (p *LongformProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.LongformPayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}
	if payload.CredentialRef == "" {
		// Submit-side validation rejects this already; a row that slips
		// through must not run on a user token that will expire mid-build.
		return Fail(models.CodeSvcBearerMissing, "longform requires a service credential reference")
	}
	if strings.TrimSpace(payload.Script) == "" {
		return Fail(models.CodeBadRequest, "script is required")
	}

	if lf, err := p.d.Stores.Longform.Get(ctx, job.ID); err == nil {
		// Fan-out already happened; a reclaim or requeue landed here while
		// segments are still in flight. CompleteSegment's hand-off only
		// fires while the parent row is running, so if the last segment
		// completed while the parent sat requeued the hand-off was lost;
		// re-check completion before parking again.
		if lf.CompletedSegments >= lf.TotalSegments {
			return DoneWith(models.JobStitching)
		}
		return DoneWith(models.JobRunning)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	cfg := p.d.Cfg.Longform
	segmentSeconds := payload.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = cfg.DefaultSegmentSeconds
	}
	if segmentSeconds > cfg.MaxSegmentSeconds {
		return Fail(models.CodeBadRequest,
			fmt.Sprintf("segment_seconds %d exceeds the maximum %d", segmentSeconds, cfg.MaxSegmentSeconds))
	}

	chunks := ChunkScript(payload.Script, segmentSeconds, cfg.MaxSegmentSeconds, cfg.WordsPerMinute)
	if len(chunks) == 0 {
		return Fail(models.CodeBadRequest, "script produced no segments")
	}
	if len(chunks) > cfg.MaxTotalSegmentsPerJob {
		return Fail(models.CodeTooManySegments,
			fmt.Sprintf("script yields %d segments, limit is %d", len(chunks), cfg.MaxTotalSegmentsPerJob))
	}

	aspect := payload.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}
	genderMode := payload.VoiceGenderMode
	if genderMode == "" {
		genderMode = models.VoiceGenderAuto
	}

	parent := &models.LongformJob{
		JobID:               job.ID,
		TotalSegments:       len(chunks),
		AspectRatio:         aspect,
		SegmentSeconds:      segmentSeconds,
		MaxSegmentSeconds:   cfg.MaxSegmentSeconds,
		VoiceConfig:         payload.VoiceConfig,
		VoiceGenderMode:     genderMode,
		WorkerCredentialRef: payload.CredentialRef,
	}
	segments := make([]*models.LongformSegment, len(chunks))
	for i, chunk := range chunks {
		segments[i] = &models.LongformSegment{
			SegmentIndex: chunk.Index,
			TextChunk:    chunk.Text,
			DurationSec:  chunk.EstimatedSeconds,
		}
	}
	if err := p.d.Stores.Longform.CreateWithSegments(ctx, parent, segments); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return DoneWith(models.JobRunning)
		}
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	p.d.Logger.InfoContext(ctx, "longform fan-out complete",
		"job_id", job.ID, "segments", len(segments))
	return DoneWith(models.JobRunning)
}
