// Package models contains the domain types shared by the store, queue,
// studio processors, and API layers.
package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// StudioType identifies which studio pipeline a job belongs to.
type StudioType string

// Studio types.
const (
	StudioFace     StudioType = "face"
	StudioAudio    StudioType = "audio"
	StudioFusion   StudioType = "fusion"
	StudioCommerce StudioType = "commerce"
	StudioMusic    StudioType = "music"
	StudioLongform StudioType = "longform"
)

// AllStudios lists every studio type that runs a worker loop.
var AllStudios = []StudioType{
	StudioFace, StudioAudio, StudioFusion, StudioCommerce, StudioMusic, StudioLongform,
}

// IsValid returns true if s is a known studio type.
func (s StudioType) IsValid() bool {
	switch s {
	case StudioFace, StudioAudio, StudioFusion, StudioCommerce, StudioMusic, StudioLongform:
		return true
	}
	return false
}

// JobStatus is the scheduling state of a job.
type JobStatus string

// Job statuses. Stitching is reachable only by longform parents.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobStitching JobStatus = "stitching"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid job status transition")

// validJobTransitions encodes the job state machine. The running→queued edge
// is the explicit requeue path; terminal states have no outgoing edges.
var validJobTransitions = map[JobStatus][]JobStatus{
	JobQueued:    {JobRunning, JobCanceled},
	JobRunning:   {JobSucceeded, JobFailed, JobCanceled, JobStitching, JobQueued},
	JobStitching: {JobSucceeded, JobFailed, JobCanceled},
	JobSucceeded: {},
	JobFailed:    {},
	JobCanceled:  {},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// Job is the unit of scheduling. Payload is opaque to the scheduler and
// decoded by the matching studio processor; unknown keys survive round-trips
// because the raw JSON is stored as-is.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	StudioType   StudioType      `json:"studio_type"`
	Status       JobStatus       `json:"status"`
	UserID       uuid.UUID       `json:"user_id"`
	RequestHash  string          `json:"request_hash"`
	Payload      json.RawMessage `json:"payload"`
	Meta         JobMeta         `json:"meta"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	ClaimedBy    string          `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	HeartbeatAt  *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// JobMeta carries control flags and provider hints alongside the payload.
// Extra keys round-trip through the map.
type JobMeta map[string]any

// RequiredActionSelectCandidate parks a music job until the user picks a
// candidate (human-in-the-loop).
const RequiredActionSelectCandidate = "select_candidate"

// RequiredAction returns the meta required_action flag, if any.
func (m JobMeta) RequiredAction() string {
	if m == nil {
		return ""
	}
	s, _ := m["required_action"].(string)
	return s
}

// SetRequiredAction records (or with "" clears) the required_action flag.
func (m JobMeta) SetRequiredAction(action string) {
	if action == "" {
		delete(m, "required_action")
		return
	}
	m["required_action"] = action
}
