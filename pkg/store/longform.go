package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// LongformStore owns the long-form parent record and its segment rows. The
// parent jobs row is the single source of truth for overall status; the
// segment table carries the fan-out sub-state machine.
type LongformStore struct {
	pool *pgxpool.Pool
}

const segmentColumns = `id, parent_job_id, segment_index, status, text_chunk,
	duration_sec, COALESCE(audio_url, ''), audio_artifact_id, fusion_job_id,
	COALESCE(segment_video_url, ''), COALESCE(segment_storage_path, ''),
	COALESCE(error_code, ''), COALESCE(error_message, ''),
	COALESCE(claimed_by, ''), created_at, updated_at`

func scanSegment(row pgx.Row) (*models.LongformSegment, error) {
	var seg models.LongformSegment
	err := row.Scan(
		&seg.ID, &seg.ParentJobID, &seg.SegmentIndex, &seg.Status, &seg.TextChunk,
		&seg.DurationSec, &seg.AudioURL, &seg.AudioArtifactID, &seg.FusionJobID,
		&seg.SegmentVideoURL, &seg.SegmentStoragePath,
		&seg.ErrorCode, &seg.ErrorMessage,
		&seg.ClaimedBy, &seg.CreatedAt, &seg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan longform segment: %w", err)
	}
	return &seg, nil
}

// CreateWithSegments inserts the parent record and every segment row in one
// transaction. Called by the longform processor after chunking; the jobs row
// already exists.
func (s *LongformStore) CreateWithSegments(ctx context.Context, parent *models.LongformJob, segments []*models.LongformSegment) error {
	voiceConfig := parent.VoiceConfig
	if len(voiceConfig) == 0 {
		voiceConfig = json.RawMessage(`{}`)
	}
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO longform_jobs (job_id, total_segments, aspect_ratio,
				segment_seconds, max_segment_seconds, voice_config,
				voice_gender_mode, worker_credential_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			parent.JobID, parent.TotalSegments, parent.AspectRatio,
			parent.SegmentSeconds, parent.MaxSegmentSeconds, []byte(voiceConfig),
			parent.VoiceGenderMode, parent.WorkerCredentialRef,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to insert longform job: %w", err)
		}
		for _, seg := range segments {
			if seg.ID == uuid.Nil {
				seg.ID = uuid.New()
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO longform_segments (id, parent_job_id, segment_index, text_chunk, duration_sec)
				VALUES ($1, $2, $3, $4, $5)`,
				seg.ID, parent.JobID, seg.SegmentIndex, seg.TextChunk, seg.DurationSec,
			)
			if err != nil {
				return fmt.Errorf("failed to insert segment %d: %w", seg.SegmentIndex, err)
			}
		}
		return nil
	})
}

// Get returns the parent record for a longform jobs row.
func (s *LongformStore) Get(ctx context.Context, jobID uuid.UUID) (*models.LongformJob, error) {
	var lf models.LongformJob
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, total_segments, completed_segments, aspect_ratio,
		       segment_seconds, max_segment_seconds, voice_config,
		       voice_gender_mode, COALESCE(final_storage_path, ''),
		       worker_credential_ref, created_at, updated_at
		FROM longform_jobs WHERE job_id = $1`, jobID,
	).Scan(&lf.JobID, &lf.TotalSegments, &lf.CompletedSegments, &lf.AspectRatio,
		&lf.SegmentSeconds, &lf.MaxSegmentSeconds, &lf.VoiceConfig,
		&lf.VoiceGenderMode, &lf.FinalStoragePath,
		&lf.WorkerCredentialRef, &lf.CreatedAt, &lf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get longform job: %w", err)
	}
	return &lf, nil
}

// ListSegments returns every segment of a parent ordered by index.
func (s *LongformStore) ListSegments(ctx context.Context, parentJobID uuid.UUID) ([]*models.LongformSegment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+segmentColumns+` FROM longform_segments
		WHERE parent_job_id = $1 ORDER BY segment_index`, parentJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*models.LongformSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// ClaimSegments moves up to limit queued segments to audio_running for one
// worker. Segments are claimed one at a time so the per-parent in-flight cap
// is re-evaluated on every claim: a single UPDATE over a batch could put one
// parent over the cap within the same statement. Segments of parents that
// are no longer running (canceled, failed fast) are never claimed.
func (s *LongformStore) ClaimSegments(ctx context.Context, claimedBy string, limit, maxInflightPerJob int) ([]*models.LongformSegment, error) {
	var segments []*models.LongformSegment
	for len(segments) < limit {
		row := s.pool.QueryRow(ctx, `
			UPDATE longform_segments SET
				status = 'audio_running',
				claimed_by = $1,
				updated_at = now()
			WHERE id = (
				SELECT seg.id FROM longform_segments seg
				WHERE seg.status = 'queued'
				  AND EXISTS (
					SELECT 1 FROM jobs j
					WHERE j.id = seg.parent_job_id AND j.status = 'running'
				  )
				  AND (
					SELECT count(*) FROM longform_segments f
					WHERE f.parent_job_id = seg.parent_job_id
					  AND f.status IN ('audio_running', 'video_running')
				  ) < $2
				ORDER BY seg.created_at, seg.segment_index
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+segmentColumns,
			claimedBy, maxInflightPerJob,
		)
		seg, err := scanSegment(row)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return segments, fmt.Errorf("failed to claim segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// MarkVideoRunning records the finished narration and advances the segment
// to the video stage.
func (s *LongformStore) MarkVideoRunning(ctx context.Context, id uuid.UUID, audioURL string, audioArtifactID, fusionJobID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE longform_segments SET
			status = 'video_running',
			audio_url = $2,
			audio_artifact_id = $3,
			fusion_job_id = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'audio_running'`,
		id, audioURL, audioArtifactID, fusionJobID)
	if err != nil {
		return fmt.Errorf("failed to advance segment to video stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CompleteSegment marks one segment succeeded and bumps the parent's
// completed counter in the same transaction. When the last segment lands,
// the parent jobs row transitions running → stitching, which exposes it to
// the stitch coordinator; the returned flag reports that hand-off.
func (s *LongformStore) CompleteSegment(ctx context.Context, id uuid.UUID, videoURL, storagePath string) (allDone bool, err error) {
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var parentID uuid.UUID
		scanErr := tx.QueryRow(ctx, `
			UPDATE longform_segments SET
				status = 'succeeded',
				segment_video_url = $2,
				segment_storage_path = $3,
				claimed_by = NULL,
				updated_at = now()
			WHERE id = $1 AND status IN ('audio_running', 'video_running')
			RETURNING parent_job_id`,
			id, videoURL, storagePath).Scan(&parentID)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return ErrInvalidState
			}
			return fmt.Errorf("failed to complete segment: %w", scanErr)
		}

		var completed, total int
		scanErr = tx.QueryRow(ctx, `
			UPDATE longform_jobs SET
				completed_segments = completed_segments + 1,
				updated_at = now()
			WHERE job_id = $1
			RETURNING completed_segments, total_segments`,
			parentID).Scan(&completed, &total)
		if scanErr != nil {
			return fmt.Errorf("failed to bump completed segments: %w", scanErr)
		}
		if completed < total {
			return nil
		}

		_, scanErr = tx.Exec(ctx, `
			UPDATE jobs SET
				status = 'stitching',
				claimed_by = NULL,
				heartbeat_at = NULL,
				updated_at = now()
			WHERE id = $1 AND status = 'running'`,
			parentID)
		if scanErr != nil {
			return fmt.Errorf("failed to move parent to stitching: %w", scanErr)
		}
		allDone = true
		return nil
	})
	return allDone, err
}

// FailSegment marks one segment failed and fails the parent fast: remaining
// queued siblings are failed in the same transaction so workers stop picking
// them up, and the parent jobs row goes terminal with the segment's error.
func (s *LongformStore) FailSegment(ctx context.Context, id uuid.UUID, code, message string) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var parentID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE longform_segments SET
				status = 'failed',
				error_code = $2,
				error_message = $3,
				claimed_by = NULL,
				updated_at = now()
			WHERE id = $1 AND status IN ('audio_running', 'video_running')
			RETURNING parent_job_id`,
			id, code, message).Scan(&parentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvalidState
			}
			return fmt.Errorf("failed to fail segment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE longform_segments SET
				status = 'failed',
				error_code = $2,
				error_message = 'sibling segment failed',
				updated_at = now()
			WHERE parent_job_id = $1 AND status = 'queued'`,
			parentID, code)
		if err != nil {
			return fmt.Errorf("failed to fail queued siblings: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status = 'failed',
				error_code = $2,
				error_message = $3,
				claimed_by = NULL,
				updated_at = now()
			WHERE id = $1 AND status IN ('running', 'stitching')`,
			parentID, code, message)
		if err != nil {
			return fmt.Errorf("failed to fail parent job: %w", err)
		}
		return nil
	})
}

// ReleaseSegment returns a claimed segment to the queue after a transient
// provider failure. The segment restarts from the audio stage.
func (s *LongformStore) ReleaseSegment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE longform_segments SET
			status = 'queued',
			claimed_by = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('audio_running', 'video_running')`, id)
	if err != nil {
		return fmt.Errorf("failed to release segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ReclaimStaleSegments requeues in-flight segments whose claim has gone
// quiet. Segment progress piggybacks on updated_at; a worker crash leaves it
// frozen.
func (s *LongformStore) ReclaimStaleSegments(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE longform_segments SET
			status = 'queued',
			claimed_by = NULL,
			updated_at = now()
		WHERE status IN ('audio_running', 'video_running')
		  AND updated_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale segments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimStitchParent atomically claims one parent whose segments all
// succeeded. The jobs row keeps status=stitching; the claim is expressed
// through claimed_by and heartbeat_at, so a crashed stitcher is re-exposed
// once the heartbeat goes stale.
func (s *LongformStore) ClaimStitchParent(ctx context.Context, claimedBy string, staleAfter time.Duration) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			claimed_by = $1,
			claimed_at = now(),
			heartbeat_at = now(),
			updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE studio_type = 'longform'
			  AND status = 'stitching'
			  AND (claimed_by IS NULL
			       OR heartbeat_at < now() - make_interval(secs => $2))
			ORDER BY updated_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		claimedBy, staleAfter.Seconds(),
	)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim stitch parent: %w", err)
	}
	return job, nil
}

// SetFinalStoragePath records the stitched output location on the parent
// record.
func (s *LongformStore) SetFinalStoragePath(ctx context.Context, jobID uuid.UUID, storagePath string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE longform_jobs SET final_storage_path = $2, updated_at = now()
		WHERE job_id = $1`, jobID, storagePath)
	if err != nil {
		return fmt.Errorf("failed to set final storage path: %w", err)
	}
	return nil
}
