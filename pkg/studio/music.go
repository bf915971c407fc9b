package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
	"github.com/skylark-media/atelier/pkg/store"
)

// maxMusicCandidates caps the candidate group size.
const maxMusicCandidates = 6

// MusicProcessor generates a candidate group of N tracks. With
// human-in-the-loop enabled, the job parks in running with a required_action
// flag until the user selects a candidate; with it disabled the first
// succeeded candidate is selected automatically.
type MusicProcessor struct {
	d *Deps
}

// NewMusicProcessor creates the music processor.
func NewMusicProcessor(d *Deps) *MusicProcessor {
	return &MusicProcessor{d: d}
}

// Process implements Processor.
func (p *MusicProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.MusicPayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}
	if strings.TrimSpace(payload.Prompt) == "" && strings.TrimSpace(payload.Lyrics) == "" {
		return Fail(models.CodeBadRequest, "prompt or lyrics is required")
	}
	if err := p.d.Safety.CheckText(payload.Prompt + " " + payload.Lyrics); err != nil {
		var v *SafetyViolation
		errors.As(err, &v)
		return Fail(v.Code, err.Error())
	}

	n := payload.Candidates
	if n <= 0 {
		n = 1
	}
	if n > maxMusicCandidates {
		n = maxMusicCandidates
	}

	candidates, err := p.ensureGroup(ctx, job, n)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	// A selection may already exist: the job was parked, the user picked,
	// and the selection endpoint requeued it for finalization.
	if selected := selectedOf(candidates); selected != nil {
		return p.finalize(ctx, job, selected)
	}

	for _, c := range candidates {
		if c.Status != models.CandidatePending {
			continue
		}
		if p.d.canceled(ctx, job) {
			return DoneWith(models.JobCanceled)
		}
		p.generateCandidate(ctx, job, payload, c)
	}

	candidates, err = p.d.Stores.Music.ListByJob(ctx, job.ID)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}
	succeeded := 0
	for _, c := range candidates {
		if c.Status == models.CandidateSucceeded {
			succeeded++
		}
	}
	if succeeded == 0 {
		return Fail(models.CodeProvider4xx, "all music candidates failed")
	}

	autoSelect := payload.AutoSelect || n == 1
	if autoSelect {
		// Deterministic rule: lowest-index succeeded candidate.
		for _, c := range candidates {
			if c.Status == models.CandidateSucceeded {
				chosen, err := p.d.Stores.Music.Select(ctx, job.ID, c.ID)
				if err != nil {
					return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
				}
				return p.finalize(ctx, job, chosen)
			}
		}
	}

	// Park for human selection.
	meta := job.Meta
	if meta == nil {
		meta = models.JobMeta{}
	}
	meta.SetRequiredAction(models.RequiredActionSelectCandidate)
	if err := p.d.Stores.Jobs.UpdateMeta(ctx, job.ID, meta); err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}
	return DoneWith(models.JobRunning)
}

// ensureGroup creates the candidate rows on first pass and returns them.
func (p *MusicProcessor) ensureGroup(ctx context.Context, job *models.Job, n int) ([]*models.MusicCandidate, error) {
	candidates, err := p.d.Stores.Music.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}
	group := make([]*models.MusicCandidate, n)
	for i := range group {
		group[i] = &models.MusicCandidate{
			JobID:          job.ID,
			CandidateIndex: i,
			Status:         models.CandidatePending,
		}
	}
	if err := p.d.Stores.Music.InsertCandidates(ctx, group); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return p.d.Stores.Music.ListByJob(ctx, job.ID)
		}
		return nil, err
	}
	return group, nil
}

// generateCandidate runs one provider call and records the outcome on the
// candidate row. Candidate failures never fail the job directly; the group
// outcome is judged after all candidates ran.
func (p *MusicProcessor) generateCandidate(ctx context.Context, job *models.Job, payload *models.MusicPayload, c *models.MusicCandidate) {
	key := provider.Key("music", job.ID.String(), strconv.Itoa(c.CandidateIndex))
	run, resume, err := p.d.Ledger.Begin(ctx, job.ID, "music", key, payload)
	if err != nil {
		p.d.Logger.WarnContext(ctx, "music ledger begin failed", "job_id", job.ID, "error", err)
		return
	}
	if resume && run.ProviderStatus == models.RunSucceeded {
		// A previous attempt already produced this track but may have died
		// before recording it on the candidate row; converge from the
		// recorded response instead of paying for a second generation.
		if c.Status == models.CandidatePending {
			var prior provider.MusicResult
			priorRunID := run.ID
			if err := json.Unmarshal(run.Response, &prior); err == nil && prior.AudioURL != "" {
				_ = p.d.Stores.Music.SetResult(ctx, c.ID, models.CandidateSucceeded, prior.AudioURL, &priorRunID)
			}
		}
		return
	}

	runID := run.ID
	track, err := p.d.Music.Generate(ctx, &provider.MusicRequest{
		Prompt:       payload.Prompt,
		Tags:         payload.Tags,
		Lyrics:       payload.Lyrics,
		Instrumental: payload.Instrumental,
		Seed:         payload.Seed + int64(c.CandidateIndex),
		OutputFormat: payload.OutputFormat,
		BitRate:      payload.BitRate,
	})
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		_ = p.d.Stores.Music.SetResult(ctx, c.ID, models.CandidateFailed, "", &runID)
		return
	}
	_ = p.d.Ledger.Succeeded(ctx, run, track)
	_ = p.d.Stores.Music.SetResult(ctx, c.ID, models.CandidateSucceeded, track.AudioURL, &runID)
}

// finalize persists the selected candidate as the job's artifact.
func (p *MusicProcessor) finalize(ctx context.Context, job *models.Job, c *models.MusicCandidate) Result {
	data, contentType, err := p.d.Music.Download(ctx, c.AudioURL)
	if err != nil {
		return FromProviderError(err, p.d.backoff(job))
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	container := p.d.Cfg.Storage.Container(string(models.KindAudio))
	path := fmt.Sprintf("%s/%s/track.mp3", job.UserID, job.ID)
	sha, err := p.d.Blob.Upload(ctx, container, path, data, contentType)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	jobID := job.ID
	artifact := &models.Artifact{
		ID:          uuid.New(),
		JobID:       &jobID,
		Kind:        models.KindAudio,
		URL:         p.d.Signer.SignPath(container, path, p.d.Cfg.Storage.DefaultTTL),
		ContentType: contentType,
		SHA256:      sha,
		Bytes:       int64(len(data)),
		Meta: map[string]any{
			models.MetaStoragePath: path,
			"candidate_index":      c.CandidateIndex,
		},
	}
	if err := p.d.Stores.Artifacts.Insert(ctx, artifact); err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}

	meta := job.Meta
	if meta == nil {
		meta = models.JobMeta{}
	}
	meta.SetRequiredAction("")
	if err := p.d.Stores.Jobs.UpdateMeta(ctx, job.ID, meta); err != nil {
		p.d.Logger.WarnContext(ctx, "clearing required_action failed", "job_id", job.ID, "error", err)
	}
	return Done()
}

func selectedOf(candidates []*models.MusicCandidate) *models.MusicCandidate {
	for _, c := range candidates {
		if c.Selected {
			return c
		}
	}
	return nil
}
