package studio

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/compose"
	"github.com/skylark-media/atelier/pkg/models"
)

// Stitcher is the fan-in half of the long-form coordinator. It takes a
// parent whose segments all succeeded, concatenates the segment videos in
// index order through the compose collaborator, stores the final file, and
// marks the parent succeeded. Any inconsistency fails the parent with
// STITCH_FAILED; there is no partial stitch.
type Stitcher struct {
	d *Deps
}

// NewStitcher creates the stitcher.
func NewStitcher(d *Deps) *Stitcher {
	return &Stitcher{d: d}
}

// Stitch finalizes one claimed stitching parent.
func (s *Stitcher) Stitch(ctx context.Context, job *models.Job) error {
	parent, err := s.d.Stores.Longform.Get(ctx, job.ID)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("loading parent record: %w", err))
	}
	segments, err := s.d.Stores.Longform.ListSegments(ctx, job.ID)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("listing segments: %w", err))
	}
	if len(segments) != parent.TotalSegments {
		return s.fail(ctx, job, fmt.Errorf("expected %d segments, found %d",
			parent.TotalSegments, len(segments)))
	}

	container := s.d.Cfg.Storage.Container(string(models.KindVideo))
	urls := make([]string, len(segments))
	for i, seg := range segments {
		if seg.Status != models.SegmentSucceeded || seg.SegmentStoragePath == "" {
			return s.fail(ctx, job, fmt.Errorf("segment %d is %s without output",
				seg.SegmentIndex, seg.Status))
		}
		// Segment URLs may have expired since generation; mint fresh ones.
		urls[i] = s.d.Signer.SignPath(container, seg.SegmentStoragePath, s.d.Cfg.Storage.OldVideoTTL)
	}

	result, err := s.d.Composer.Stitch(ctx, &compose.Request{
		SegmentURLs: urls,
		AspectRatio: parent.AspectRatio,
	})
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("compose: %w", err))
	}

	data, err := s.d.Blob.Download(ctx, result.VideoURL)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("fetching stitched output: %w", err))
	}
	finalPath := fmt.Sprintf("%s/%s/final.mp4", job.UserID, job.ID)
	sha, err := s.d.Blob.Upload(ctx, container, finalPath, data, "video/mp4")
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("storing stitched output: %w", err))
	}

	jobID := job.ID
	artifact := &models.Artifact{
		ID:          uuid.New(),
		JobID:       &jobID,
		Kind:        models.KindVideo,
		URL:         s.d.Signer.SignPath(container, finalPath, s.d.Cfg.Storage.RecentVideoTTL),
		ContentType: "video/mp4",
		SHA256:      sha,
		Bytes:       int64(len(data)),
		Meta: map[string]any{
			models.MetaStoragePath: finalPath,
			"segments":             len(segments),
		},
	}
	if err := s.d.Stores.Artifacts.Insert(ctx, artifact); err != nil {
		return s.fail(ctx, job, fmt.Errorf("recording final artifact: %w", err))
	}
	if err := s.d.Stores.Longform.SetFinalStoragePath(ctx, job.ID, finalPath); err != nil {
		return s.fail(ctx, job, fmt.Errorf("recording final storage path: %w", err))
	}

	if err := s.d.Stores.Jobs.Finish(ctx, job.ID, models.JobSucceeded, "", ""); err != nil {
		return fmt.Errorf("finishing parent %s: %w", job.ID, err)
	}
	s.d.Logger.InfoContext(ctx, "longform stitched",
		"job_id", job.ID, "segments", len(segments), "bytes", len(data))
	return nil
}

func (s *Stitcher) fail(ctx context.Context, job *models.Job, cause error) error {
	if err := s.d.Stores.Jobs.Finish(ctx, job.ID, models.JobFailed,
		models.CodeStitchFailed, cause.Error()); err != nil {
		s.d.Logger.ErrorContext(ctx, "failing stitch parent failed",
			"job_id", job.ID, "error", err)
	}
	return cause
}
