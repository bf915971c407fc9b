package models

import (
	"time"

	"github.com/google/uuid"
)

// CandidateStatus is the provider-side state of one music candidate.
type CandidateStatus string

// Candidate statuses.
const (
	CandidatePending   CandidateStatus = "pending"
	CandidateSucceeded CandidateStatus = "succeeded"
	CandidateFailed    CandidateStatus = "failed"
)

// MusicCandidate is one of N parallel generations in a candidate group.
// The parent music job advances only when a candidate is selected (or when
// HITL is disabled and the auto-selection rule fires).
type MusicCandidate struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"job_id"`
	CandidateIndex int             `json:"candidate_index"`
	ProviderRunID  *uuid.UUID      `json:"provider_run_id,omitempty"`
	AudioURL       string          `json:"audio_url,omitempty"`
	Status         CandidateStatus `json:"status"`
	Selected       bool            `json:"selected"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
