package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
)

// FusionProcessor produces a talking-head video from a face input and an
// audio input. The provider job is asynchronous: submit, then poll to a
// total deadline. The idempotency key binds the face and audio identities,
// so a requeue after a crash resumes the same provider job instead of
// starting a second one.
type FusionProcessor struct {
	d *Deps
}

// NewFusionProcessor creates the fusion processor.
func NewFusionProcessor(d *Deps) *FusionProcessor {
	return &FusionProcessor{d: d}
}

// Process implements Processor.
func (p *FusionProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.FusionPayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}

	faceURL, err := p.resolveFace(ctx, job, payload)
	if err != nil {
		return Fail(models.CodeInvalidFaceInput, err.Error())
	}
	audioURL, err := p.resolveAudio(ctx, job, payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}

	key := provider.Key("face_video", job.ID.String(), shortHash(faceURL), shortHash(audioURL))
	run, resume, err := p.d.Ledger.Begin(ctx, job.ID, "face_video", key, map[string]string{
		"face_url": faceURL, "audio_url": audioURL,
	})
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	switch {
	case resume && run.ProviderStatus == models.RunSucceeded:
		return Done()
	case resume && run.ProviderStatus == models.RunFailed:
		// The previous attempt's submission failed terminally; the requeue
		// carries a fresh attempt under the same key, so retry the submit.
		resume = false
	}

	if !resume {
		imageKey, err := p.d.FaceVideo.UploadImage(ctx, faceURL)
		if err != nil {
			_ = p.d.Ledger.Failed(ctx, run, err)
			return FromProviderError(err, p.d.backoff(job))
		}
		providerJobID, err := p.d.FaceVideo.Submit(ctx, &provider.FaceVideoRequest{
			ImageKey:    imageKey,
			AudioURL:    audioURL,
			AspectRatio: payload.AspectRatio,
		})
		if err != nil {
			_ = p.d.Ledger.Failed(ctx, run, err)
			return FromProviderError(err, p.d.backoff(job))
		}
		if err := p.d.Ledger.Submitted(ctx, run, providerJobID, nil); err != nil {
			// The provider accepted the job; losing the id would orphan it.
			return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
		}
	}

	_ = p.d.Ledger.Running(ctx, run)
	st, err := p.d.FaceVideo.Poll(ctx, run.ProviderJobID)
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		code, _ := provider.Classify(err)
		if code == models.CodeTimeout {
			return Fail(models.CodeTimeout, err.Error())
		}
		return FromProviderError(err, p.d.backoff(job))
	}
	if st.Status != "completed" {
		err := fmt.Errorf("provider job failed: %s", st.FailReason)
		_ = p.d.Ledger.Failed(ctx, run, err)
		return Fail(models.CodeProvider4xx, err.Error())
	}

	res, ok := p.persistVideo(ctx, job, run, st)
	if !ok {
		return res
	}
	return Done()
}

// persistVideo stores the finished video and records the performance row.
func (p *FusionProcessor) persistVideo(ctx context.Context, job *models.Job, run *models.ProviderRun, st *provider.FaceVideoStatus) (Result, bool) {
	data, contentType, err := p.d.FaceVideo.Download(ctx, st.VideoURL)
	if err != nil {
		return FromProviderError(err, p.d.backoff(job)), false
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	container := p.d.Cfg.Storage.Container(string(models.KindVideo))
	path := fmt.Sprintf("%s/%s/fusion.mp4", job.UserID, job.ID)
	sha, err := p.d.Blob.Upload(ctx, container, path, data, contentType)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error()), false
	}

	jobID := job.ID
	artifact := &models.Artifact{
		ID:          uuid.New(),
		JobID:       &jobID,
		Kind:        models.KindVideo,
		URL:         p.d.Signer.SignPath(container, path, p.d.Cfg.Storage.RecentVideoTTL),
		ContentType: contentType,
		SHA256:      sha,
		Bytes:       int64(len(data)),
		Meta:        map[string]any{models.MetaStoragePath: path},
	}
	if err := p.d.Stores.Artifacts.Insert(ctx, artifact); err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error()), false
	}

	if err := p.d.Ledger.RecordPerformance(ctx, &models.Performance{
		JobID:         job.ID,
		Provider:      "face_video",
		ProviderJobID: run.ProviderJobID,
		VideoURL:      st.VideoURL,
	}); err != nil {
		p.d.Logger.WarnContext(ctx, "performance upsert failed", "job_id", job.ID, "error", err)
	}
	if err := p.d.Ledger.Succeeded(ctx, run, map[string]any{"artifact_id": artifact.ID}); err != nil {
		p.d.Logger.WarnContext(ctx, "ledger finish failed", "job_id", job.ID, "error", err)
	}
	return Result{}, true
}

// resolveFace turns the payload's face reference into a fetchable URL.
func (p *FusionProcessor) resolveFace(ctx context.Context, job *models.Job, payload *models.FusionPayload) (string, error) {
	switch {
	case payload.FaceArtifactID != nil:
		a, err := p.d.Stores.Artifacts.Get(ctx, *payload.FaceArtifactID)
		if err != nil {
			return "", fmt.Errorf("face artifact %s: %w", payload.FaceArtifactID, err)
		}
		return p.d.Signer.FreshURL(a), nil
	case payload.FaceURL != "":
		return payload.FaceURL, nil
	default:
		return "", fmt.Errorf("either face_artifact_id or face_url is required")
	}
}

// resolveAudio turns the payload's audio reference into a fetchable URL.
func (p *FusionProcessor) resolveAudio(ctx context.Context, job *models.Job, payload *models.FusionPayload) (string, error) {
	switch {
	case payload.AudioArtifactID != nil:
		a, err := p.d.Stores.Artifacts.Get(ctx, *payload.AudioArtifactID)
		if err != nil {
			return "", fmt.Errorf("audio artifact %s: %w", payload.AudioArtifactID, err)
		}
		return p.d.Signer.FreshURL(a), nil
	case payload.AudioURL != "":
		return payload.AudioURL, nil
	default:
		return "", fmt.Errorf("either audio_artifact_id or audio_url is required")
	}
}

// shortHash keys idempotency on input identity without embedding raw URLs.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
