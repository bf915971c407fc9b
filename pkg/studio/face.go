package studio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
)

// maxFaceVariants caps the images produced per job.
const maxFaceVariants = 8

// FaceProcessor generates face image variants: safety filter → translate to
// English → one image provider call per variant, each behind its own
// idempotency key so a requeue regenerates only the variants that never
// finished.
type FaceProcessor struct {
	d *Deps
}

// NewFaceProcessor creates the face processor.
func NewFaceProcessor(d *Deps) *FaceProcessor {
	return &FaceProcessor{d: d}
}

// Process implements Processor.
func (p *FaceProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.FacePayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		return Fail(models.CodeBadRequest, "prompt is required")
	}

	if err := p.d.Safety.CheckText(payload.Prompt); err != nil {
		var v *SafetyViolation
		errors.As(err, &v)
		return Fail(v.Code, err.Error())
	}

	prompt := payload.Prompt
	if payload.Locale != "" && payload.Locale != "en" {
		translated, err := p.d.Translate.Translate(ctx, prompt, "en")
		if err != nil {
			return FromProviderError(err, p.d.backoff(job))
		}
		prompt = translated
	}

	variants := payload.Variants
	if variants <= 0 {
		variants = 1
	}
	if variants > maxFaceVariants {
		variants = maxFaceVariants
	}

	size := ""
	if payload.Width > 0 && payload.Height > 0 {
		size = fmt.Sprintf("%dx%d", payload.Width, payload.Height)
	}

	for i := 0; i < variants; i++ {
		if p.d.canceled(ctx, job) {
			return DoneWith(models.JobCanceled)
		}
		if res, ok := p.generateVariant(ctx, job, prompt, payload, size, i); !ok {
			return res
		}
	}
	return Done()
}

// generateVariant produces and persists one image. ok=false carries the
// Result that should terminate processing.
func (p *FaceProcessor) generateVariant(ctx context.Context, job *models.Job, prompt string, payload *models.FacePayload, size string, index int) (Result, bool) {
	key := provider.Key("image", job.ID.String(), strconv.Itoa(index))
	run, resume, err := p.d.Ledger.Begin(ctx, job.ID, "image", key, map[string]any{
		"prompt": prompt, "variant": index,
	})
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error()), false
	}
	if resume && run.ProviderStatus == models.RunSucceeded {
		// Variant already persisted by a previous attempt.
		return Result{}, true
	}

	img, err := p.d.Image.Generate(ctx, &provider.ImageRequest{
		Prompt:         prompt,
		NegativePrompt: payload.NegativePrompt,
		Seed:           payload.Seed + int64(index),
		Size:           size,
	})
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		return FromProviderError(err, p.d.backoff(job)), false
	}

	var data []byte
	contentType := img.ContentType
	if img.URL != "" {
		data, contentType, err = p.d.Image.Download(ctx, img.URL)
	} else {
		data, err = base64.StdEncoding.DecodeString(img.B64)
	}
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		return FromProviderError(err, p.d.backoff(job)), false
	}
	if contentType == "" {
		contentType = "image/png"
	}

	path := fmt.Sprintf("%s/%s/%d.png", job.UserID, job.ID, index)
	container := p.d.Cfg.Storage.Container(string(models.KindFace))
	sha, err := p.d.Blob.Upload(ctx, container, path, data, contentType)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error()), false
	}

	jobID := job.ID
	artifact := &models.Artifact{
		ID:          uuid.New(),
		JobID:       &jobID,
		Kind:        models.KindFace,
		URL:         p.d.Signer.SignPath(container, path, p.d.Cfg.Storage.FaceImageTTL),
		ContentType: contentType,
		SHA256:      sha,
		Bytes:       int64(len(data)),
		Meta:        map[string]any{models.MetaStoragePath: path, "variant": index},
	}
	if err := p.d.Stores.Artifacts.Insert(ctx, artifact); err != nil {
		return Requeue(p.d.backoff(job), models.CodeNetworkError, err.Error()), false
	}
	if err := p.d.Ledger.Succeeded(ctx, run, map[string]any{"artifact_id": artifact.ID}); err != nil {
		p.d.Logger.WarnContext(ctx, "ledger finish failed", "job_id", job.ID, "error", err)
	}
	return Result{}, true
}
