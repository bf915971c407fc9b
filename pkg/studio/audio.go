package studio

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
)

// AudioProcessor renders text to speech and persists the produced variants.
// One idempotency key per job: the synthesis call is the logical step.
type AudioProcessor struct {
	d *Deps
}

// NewAudioProcessor creates the TTS processor.
func NewAudioProcessor(d *Deps) *AudioProcessor {
	return &AudioProcessor{d: d}
}

// Process implements Processor.
func (p *AudioProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.AudioPayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}
	if strings.TrimSpace(payload.Text) == "" {
		return Fail(models.CodeBadRequest, "text is required")
	}

	key := provider.Key("tts", job.ID.String())
	run, resume, err := p.d.Ledger.Begin(ctx, job.ID, "tts", key, payload)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
	}
	if resume && run.ProviderStatus == models.RunSucceeded {
		return Done()
	}

	variants, err := p.d.TTS.Synthesize(ctx, &provider.TTSRequest{
		Text:         payload.Text,
		TargetLocale: payload.TargetLocale,
		Voice:        payload.Voice,
		Style:        payload.Style,
		Rate:         payload.Rate,
		Pitch:        payload.Pitch,
		OutputFormat: payload.OutputFormat,
	})
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		return FromProviderError(err, p.d.backoff(job))
	}
	if len(variants) == 0 {
		err := fmt.Errorf("tts returned no variants")
		_ = p.d.Ledger.Failed(ctx, run, err)
		return Fail(models.CodeProvider4xx, err.Error())
	}

	format := payload.OutputFormat
	if format == "" {
		format = "mp3"
	}
	container := p.d.Cfg.Storage.Container(string(models.KindAudio))
	jobID := job.ID

	for i, v := range variants {
		if p.d.canceled(ctx, job) {
			return DoneWith(models.JobCanceled)
		}
		data, contentType, err := p.d.TTS.Download(ctx, v.AudioURL)
		if err != nil {
			_ = p.d.Ledger.Failed(ctx, run, err)
			return FromProviderError(err, p.d.backoff(job))
		}
		if contentType == "" {
			contentType = v.ContentType
		}

		path := fmt.Sprintf("%s/%s/%d.%s", job.UserID, job.ID, i, format)
		sha, err := p.d.Blob.Upload(ctx, container, path, data, contentType)
		if err != nil {
			return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
		}

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
				"duration_ms":          v.DurationMS,
			},
		}
		if err := p.d.Stores.Artifacts.Insert(ctx, artifact); err != nil {
			return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error())
		}
	}

	if err := p.d.Ledger.Succeeded(ctx, run, map[string]any{"variants": len(variants)}); err != nil {
		p.d.Logger.WarnContext(ctx, "ledger finish failed", "job_id", job.ID, "error", err)
	}
	return Done()
}
