package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommerceQuote is a persisted pricing quote. The pricing calculator is an
// external collaborator; the processor only persists, re-runs, and checks
// expiry.
type CommerceQuote struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	JobID       *uuid.UUID      `json:"job_id,omitempty"`
	AmountCents int64           `json:"amount_cents"`
	Currency    string          `json:"currency"`
	Breakdown   json.RawMessage `json:"breakdown,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Expired reports whether the quote can no longer be confirmed.
func (q *CommerceQuote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// CampaignStatus is the commerce campaign state machine.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQuoted    CampaignStatus = "quoted"
	CampaignConfirmed CampaignStatus = "confirmed"
	CampaignRunning   CampaignStatus = "campaign_running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

var validCampaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignQuoted},
	CampaignQuoted:    {CampaignConfirmed, CampaignFailed},
	CampaignConfirmed: {CampaignRunning, CampaignFailed},
	CampaignRunning:   {CampaignCompleted, CampaignFailed},
	CampaignCompleted: {},
	CampaignFailed:    {},
}

// CanTransitionCampaign reports whether a campaign may advance from → to.
func CanTransitionCampaign(from, to CampaignStatus) bool {
	for _, s := range validCampaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CommerceCampaign tracks the quote→confirm→campaign→studio-job chain.
// Per-step partial outcomes are recorded in Meta while the campaign itself
// stays on the state machine above.
type CommerceCampaign struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	QuoteID     uuid.UUID       `json:"quote_id"`
	StudioJobID *uuid.UUID      `json:"studio_job_id,omitempty"`
	Status      CampaignStatus  `json:"status"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
