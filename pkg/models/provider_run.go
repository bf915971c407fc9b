package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProviderStatus is the lifecycle state of one outbound provider call.
type ProviderStatus string

// Provider run statuses.
const (
	RunCreated   ProviderStatus = "created"
	RunQueued    ProviderStatus = "queued"
	RunSubmitted ProviderStatus = "submitted"
	RunRunning   ProviderStatus = "running"
	RunSucceeded ProviderStatus = "succeeded"
	RunFailed    ProviderStatus = "failed"
)

// IsTerminal reports whether the run reached a final provider state.
func (s ProviderStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Resumable reports whether an existing run with this status should be
// resumed instead of re-submitted. A run that already reached the provider
// (has a provider_job_id) must never be submitted twice.
func (s ProviderStatus) Resumable() bool {
	return s == RunSubmitted || s == RunRunning || s == RunSucceeded || s == RunFailed
}

// ProviderRun is the ledger row for one logical external call. The
// idempotency key is a pure function of (provider, job, logical step,
// attempt partition); a retry with the same key updates the existing row.
type ProviderRun struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"job_id"`
	Provider       string          `json:"provider"`
	IdempotencyKey string          `json:"idempotency_key"`
	ProviderJobID  string          `json:"provider_job_id,omitempty"`
	ProviderStatus ProviderStatus  `json:"provider_status"`
	Request        json.RawMessage `json:"request,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Performance is the upserted per-provider-job row recorded by the fusion
// processor. The unique index on (provider, provider_job_id) is partial
// (only when provider_job_id is set), so writers insert first and fall back
// to an update on conflict.
type Performance struct {
	ID            uuid.UUID       `json:"id"`
	JobID         uuid.UUID       `json:"job_id"`
	Provider      string          `json:"provider"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
	VideoURL      string          `json:"video_url,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
