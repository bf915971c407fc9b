package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
	"github.com/skylark-media/atelier/pkg/studio"
)

// JobService owns submit validation, status reads, cancellation, and the
// music candidate selection flow.
type JobService struct {
	cfg    *config.Config
	stores *store.Stores
	signer *blob.Signer
	logger *slog.Logger
}

// NewJobService creates the job service.
func NewJobService(cfg *config.Config, stores *store.Stores, signer *blob.Signer, logger *slog.Logger) *JobService {
	return &JobService{cfg: cfg, stores: stores, signer: signer, logger: logger}
}

// SubmitResponse reports the submitted (or reused) job.
type SubmitResponse struct {
	Job    *models.Job `json:"job"`
	Reused bool        `json:"reused"`
}

// Submit validates and enqueues one job. Submits are idempotent on
// (user, studio, payload): a byte-identical resubmit returns the original
// job with Reused set instead of creating a duplicate.
func (s *JobService) Submit(ctx context.Context, userID uuid.UUID, studioType models.StudioType, payload json.RawMessage) (*SubmitResponse, error) {
	if !studioType.IsValid() {
		return nil, invalid(models.CodeBadRequest, "unknown studio type %q", studioType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := s.validatePayload(studioType, payload); err != nil {
		return nil, err
	}

	hash, err := models.RequestHash(userID, payload)
	if err != nil {
		return nil, invalid(models.CodeBadRequest, "payload is not canonicalizable: %v", err)
	}
	res, err := s.stores.Jobs.Submit(ctx, userID, studioType, hash, payload, nil)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job submitted",
		"job_id", res.Job.ID, "studio", studioType, "user_id", userID, "reused", res.Existed)
	return &SubmitResponse{Job: res.Job, Reused: res.Existed}, nil
}

// validatePayload applies the per-studio submit rules. Feasibility failures
// here are rejected synchronously and never enqueued.
func (s *JobService) validatePayload(studioType models.StudioType, raw json.RawMessage) error {
	switch studioType {
	case models.StudioFace:
		p, err := models.DecodePayload[models.FacePayload](raw)
		if err != nil {
			return invalid(models.CodeBadRequest, "%v", err)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return invalid(models.CodeBadRequest, "prompt is required")
		}
		if !s.cfg.Providers.LocaleAllowed(p.Locale) {
			return invalid(models.CodeLocaleNotAllowed, "locale %q is not supported", p.Locale)
		}

	case models.StudioAudio:
		p, err := models.DecodePayload[models.AudioPayload](raw)
		if err != nil {
			return invalid(models.CodeBadRequest, "%v", err)
		}
		if strings.TrimSpace(p.Text) == "" {
			return invalid(models.CodeBadRequest, "text is required")
		}
		if !s.cfg.Providers.LocaleAllowed(p.TargetLocale) {
			return invalid(models.CodeLocaleNotAllowed, "target_locale %q is not supported", p.TargetLocale)
		}
		switch p.OutputFormat {
		case "", "mp3", "wav":
		default:
			return invalid(models.CodeBadRequest, "output_format must be mp3 or wav")
		}

	case models.StudioFusion:
		p, err := models.DecodePayload[models.FusionPayload](raw)
		if err != nil {
			return invalid(models.CodeBadRequest, "%v", err)
		}
		if p.FaceArtifactID == nil && p.FaceURL == "" {
			return invalid(models.CodeBadRequest, "a face input is required")
		}
		if p.AudioArtifactID == nil && p.AudioURL == "" {
			return invalid(models.CodeBadRequest, "an audio input is required")
		}

	case models.StudioMusic:
		p, err := models.DecodePayload[models.MusicPayload](raw)
		if err != nil {
			return invalid(models.CodeBadRequest, "%v", err)
		}
		if strings.TrimSpace(p.Prompt) == "" && strings.TrimSpace(p.Lyrics) == "" {
			return invalid(models.CodeBadRequest, "prompt or lyrics is required")
		}

	case models.StudioCommerce:
		p, err := models.DecodePayload[models.CommercePayload](raw)
		if err != nil {
			return invalid(models.CodeBadRequest, "%v", err)
		}
		switch p.Step {
		case "", "quote", "confirm", "campaign":
		default:
			return invalid(models.CodeBadRequest, "unknown commerce step %q", p.Step)
		}

	case models.StudioLongform:
		return s.validateLongform(raw)
	}
	return nil
}

// validateLongform applies the long-form feasibility checks at submit so the
// caller learns about an infeasible script synchronously.
func (s *JobService) validateLongform(raw json.RawMessage) error {
	p, err := models.DecodePayload[models.LongformPayload](raw)
	if err != nil {
		return invalid(models.CodeBadRequest, "%v", err)
	}
	if strings.TrimSpace(p.Script) == "" {
		return invalid(models.CodeBadRequest, "script is required")
	}
	// Async execution outlives any user token; a reusable service credential
	// reference is mandatory.
	if p.CredentialRef == "" {
		return invalid(models.CodeSvcBearerMissing, "longform requires a service credential reference")
	}

	cfg := s.cfg.Longform
	segmentSeconds := p.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = cfg.DefaultSegmentSeconds
	}
	if segmentSeconds > cfg.MaxSegmentSeconds {
		return invalid(models.CodeBadRequest,
			"segment_seconds %d exceeds the maximum %d", segmentSeconds, cfg.MaxSegmentSeconds)
	}
	chunks := studio.ChunkScript(p.Script, segmentSeconds, cfg.MaxSegmentSeconds, cfg.WordsPerMinute)
	if len(chunks) > cfg.MaxTotalSegmentsPerJob {
		return invalid(models.CodeTooManySegments,
			"script yields %d segments, limit is %d", len(chunks), cfg.MaxTotalSegmentsPerJob)
	}
	return nil
}

// LongformProgress is the fan-out/fan-in progress of a long-form parent.
type LongformProgress struct {
	CompletedSegments int `json:"completed_segments"`
	TotalSegments     int `json:"total_segments"`
}

// JobStatusView is the full status response for one job.
type JobStatusView struct {
	Job            *models.Job        `json:"job"`
	Artifacts      []*models.Artifact `json:"artifacts"`
	RequiredAction string             `json:"required_action,omitempty"`
	Progress       *LongformProgress  `json:"progress,omitempty"`
}

// Status returns a job with its artifacts. Artifact URLs are re-signed at
// read time; the persisted ones may have expired.
func (s *JobService) Status(ctx context.Context, jobID, userID uuid.UUID) (*JobStatusView, error) {
	job, err := s.stores.Jobs.GetOwned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.stores.Artifacts.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		a.URL = s.signer.FreshURL(a)
	}

	view := &JobStatusView{
		Job:            job,
		Artifacts:      artifacts,
		RequiredAction: job.Meta.RequiredAction(),
	}
	if job.StudioType == models.StudioLongform {
		if rec, err := s.stores.Longform.Get(ctx, jobID); err == nil {
			view.Progress = &LongformProgress{
				CompletedSegments: rec.CompletedSegments,
				TotalSegments:     rec.TotalSegments,
			}
		}
	}
	return view, nil
}

// Cancel marks a job canceled. The marker is honored cooperatively: an
// executor mid-provider-call finishes that call and stops at the next
// transition.
func (s *JobService) Cancel(ctx context.Context, jobID, userID uuid.UUID) error {
	if err := s.stores.Jobs.Cancel(ctx, jobID, userID); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return invalid(models.CodeBadRequest, "job is not cancelable")
		}
		return err
	}
	s.logger.InfoContext(ctx, "job canceled", "job_id", jobID, "user_id", userID)
	return nil
}

// ListCandidates returns a music job's candidate group with playable URLs.
func (s *JobService) ListCandidates(ctx context.Context, jobID, userID uuid.UUID) ([]*models.MusicCandidate, error) {
	job, err := s.stores.Jobs.GetOwned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.StudioType != models.StudioMusic {
		return nil, invalid(models.CodeBadRequest, "job %s is not a music job", jobID)
	}
	return s.stores.Music.ListByJob(ctx, jobID)
}

// SelectCandidate records the user's pick and requeues the parked job so the
// processor finalizes the chosen track into an artifact.
func (s *JobService) SelectCandidate(ctx context.Context, jobID, candidateID, userID uuid.UUID) (*models.MusicCandidate, error) {
	job, err := s.stores.Jobs.GetOwned(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.StudioType != models.StudioMusic {
		return nil, invalid(models.CodeBadRequest, "job %s is not a music job", jobID)
	}
	if job.Status.IsTerminal() {
		return nil, invalid(models.CodeBadRequest, "job %s is already %s", jobID, job.Status)
	}

	chosen, err := s.stores.Music.Select(ctx, jobID, candidateID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil, invalid(models.CodeBadRequest,
				"candidate %s is not a succeeded candidate of this job", candidateID)
		}
		return nil, err
	}

	// A parked job waits in running with no executor; send it back through
	// the queue for finalization. ErrInvalidState means an executor holds it
	// right now and will see the selection itself.
	if job.Status == models.JobRunning {
		if err := s.stores.Jobs.Requeue(ctx, jobID, 0, "", ""); err != nil &&
			!errors.Is(err, store.ErrInvalidState) {
			return nil, fmt.Errorf("requeueing job for finalization: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "music candidate selected",
		"job_id", jobID, "candidate_id", candidateID, "candidate_index", chosen.CandidateIndex)
	return chosen, nil
}
