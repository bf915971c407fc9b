package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// Pricer is the external pricing calculator. Only its interface to the
// pipeline is owned here.
type Pricer interface {
	Quote(ctx context.Context, userID uuid.UUID, items json.RawMessage) (amountCents int64, currency string, breakdown json.RawMessage, err error)
}

// CommerceProcessor drives the quote → confirm → campaign chain. Pricing is
// delegated to the Pricer; the processor persists quotes, checks expiry,
// reserves the idempotent studio job, and advances the campaign state
// machine. Per-step partial outcomes land in campaign meta.
type CommerceProcessor struct {
	d *Deps
}

// NewCommerceProcessor creates the commerce processor.
func NewCommerceProcessor(d *Deps) *CommerceProcessor {
	return &CommerceProcessor{d: d}
}

// quoteValidity is how long a quote may be confirmed.
const quoteValidity = 24 * time.Hour

// Process implements Processor.
func (p *CommerceProcessor) Process(ctx context.Context, job *models.Job) Result {
	payload, err := models.DecodePayload[models.CommercePayload](job.Payload)
	if err != nil {
		return Fail(models.CodeBadRequest, err.Error())
	}

	switch payload.Step {
	case "", "quote":
		return p.stepQuote(ctx, job, payload)
	case "confirm":
		return p.stepConfirm(ctx, job, payload)
	case "campaign":
		return p.stepCampaign(ctx, job, payload)
	default:
		return Fail(models.CodeBadRequest, fmt.Sprintf("unknown commerce step %q", payload.Step))
	}
}

// stepQuote prices the items and opens a campaign in quoted state.
func (p *CommerceProcessor) stepQuote(ctx context.Context, job *models.Job, payload *models.CommercePayload) Result {
	amount, currency, breakdown, err := p.d.Pricer.Quote(ctx, job.UserID, payload.Items)
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}

	jobID := job.ID
	quote := &models.CommerceQuote{
		UserID:      job.UserID,
		JobID:       &jobID,
		AmountCents: amount,
		Currency:    currency,
		Breakdown:   breakdown,
		ExpiresAt:   time.Now().UTC().Add(quoteValidity),
	}
	if err := p.d.Stores.Commerce.InsertQuote(ctx, quote); err != nil {
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}

	campaign := &models.CommerceCampaign{
		UserID:  job.UserID,
		QuoteID: quote.ID,
		Status:  models.CampaignDraft,
	}
	if err := p.d.Stores.Commerce.CreateCampaign(ctx, campaign); err != nil {
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}
	if err := p.d.Stores.Commerce.TransitionCampaign(ctx, campaign.ID, models.CampaignDraft, models.CampaignQuoted); err != nil {
		return Fail(models.CodeCommerceWorkerError, err.Error())
	}

	meta := job.Meta
	if meta == nil {
		meta = models.JobMeta{}
	}
	meta["quote_id"] = quote.ID.String()
	meta["campaign_id"] = campaign.ID.String()
	if err := p.d.Stores.Jobs.UpdateMeta(ctx, job.ID, meta); err != nil {
		p.d.Logger.WarnContext(ctx, "recording quote ids failed", "job_id", job.ID, "error", err)
	}
	return Done()
}

// stepConfirm validates the quote's expiry and confirms the campaign.
func (p *CommerceProcessor) stepConfirm(ctx context.Context, job *models.Job, payload *models.CommercePayload) Result {
	if payload.QuoteID == nil || payload.CampaignID == nil {
		return Fail(models.CodeBadRequest, "confirm requires quote_id and campaign_id")
	}
	quote, err := p.d.Stores.Commerce.GetQuoteOwned(ctx, *payload.QuoteID, job.UserID)
	if err != nil {
		return Fail(models.CodeBadRequest, fmt.Sprintf("quote %s: %v", payload.QuoteID, err))
	}
	if quote.Expired(time.Now().UTC()) {
		return Fail(models.CodeQuoteExpired, "quote can no longer be confirmed")
	}
	if err := p.d.Stores.Commerce.TransitionCampaign(ctx, *payload.CampaignID, models.CampaignQuoted, models.CampaignConfirmed); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return Fail(models.CodeCommerceWorkerError, "campaign is not awaiting confirmation")
		}
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}
	return Done()
}

// stepCampaign launches the campaign: reserves the idempotent studio job and
// walks the campaign to completed. The studio job submit reuses the standard
// idempotent path, so re-running this step lands on the same generation job.
func (p *CommerceProcessor) stepCampaign(ctx context.Context, job *models.Job, payload *models.CommercePayload) Result {
	if payload.CampaignID == nil {
		return Fail(models.CodeBadRequest, "campaign step requires campaign_id")
	}
	campaignID := *payload.CampaignID

	campaign, err := p.d.Stores.Commerce.GetCampaign(ctx, campaignID)
	if err != nil {
		return Fail(models.CodeBadRequest, fmt.Sprintf("campaign %s: %v", campaignID, err))
	}
	if campaign.Status == models.CampaignConfirmed {
		if err := p.d.Stores.Commerce.TransitionCampaign(ctx, campaignID, models.CampaignConfirmed, models.CampaignRunning); err != nil {
			return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
		}
	}

	generationPayload, err := json.Marshal(map[string]any{
		"prompt":   fmt.Sprintf("campaign %s creative", campaignID),
		"variants": 4,
	})
	if err != nil {
		return Fail(models.CodeCommerceWorkerError, err.Error())
	}
	requestHash, err := models.RequestHash(job.UserID, generationPayload)
	if err != nil {
		return Fail(models.CodeCommerceWorkerError, err.Error())
	}
	submitted, err := p.d.Stores.Jobs.Submit(ctx, job.UserID, models.StudioFace, requestHash, generationPayload, models.JobMeta{
		"campaign_id": campaignID.String(),
	})
	if err != nil {
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}
	if err := p.d.Stores.Commerce.AttachStudioJob(ctx, campaignID, submitted.Job.ID); err != nil {
		return Requeue(p.d.backoff(job), models.CodeCommerceWorkerError, err.Error())
	}

	stepMeta, _ := json.Marshal(map[string]any{
		"studio_job_id": submitted.Job.ID.String(),
		"reused":        submitted.Existed,
	})
	if err := p.d.Stores.Commerce.SetCampaignMeta(ctx, campaignID, stepMeta); err != nil {
		p.d.Logger.WarnContext(ctx, "campaign meta update failed", "campaign_id", campaignID, "error", err)
	}
	if err := p.d.Stores.Commerce.TransitionCampaign(ctx, campaignID, models.CampaignRunning, models.CampaignCompleted); err != nil {
		return Fail(models.CodeCommerceWorkerError, err.Error())
	}
	return Done()
}
