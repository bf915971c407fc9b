package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SupportEventKind classifies audit stream entries.
type SupportEventKind string

// Support event kinds.
const (
	SupportSnapshot         SupportEventKind = "snapshot"
	SupportAction           SupportEventKind = "action"
	SupportUserMessage      SupportEventKind = "user_message"
	SupportAssistantMessage SupportEventKind = "assistant_message"
	SupportSystem           SupportEventKind = "system"
)

// ActorType identifies who appended a support event.
type ActorType string

// Actor types.
const (
	ActorUser  ActorType = "user"
	ActorAdmin ActorType = "admin"
)

// SupportSession groups a hash-chained audit event stream. ProjectID and
// JobID are optional context flattened into the query view.
type SupportSession struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Surface   string     `json:"surface,omitempty"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SupportEvent is one link in a per-session hash chain:
// event_hash = sha256(session_id ‖ prev_hash ‖ canonical(payload) ‖
// actor_type ‖ actor_id ‖ kind ‖ created_at), with prev_hash equal to the
// previous row's event_hash (empty for the first event).
//
// ActorID is non-nullable (legacy column): admin events impersonate a user
// context and must carry ImpersonatedUserID.
type SupportEvent struct {
	ID                 uuid.UUID        `json:"id"`
	SessionID          uuid.UUID        `json:"session_id"`
	Kind               SupportEventKind `json:"kind"`
	ActorType          ActorType        `json:"actor_type"`
	ActorID            uuid.UUID        `json:"actor_id"`
	ImpersonatedUserID *uuid.UUID       `json:"impersonated_user_id,omitempty"`
	Payload            json.RawMessage  `json:"payload"`
	PrevHash           string           `json:"prev_hash,omitempty"`
	EventHash          string           `json:"event_hash"`
	CreatedAt          time.Time        `json:"created_at"`
}

// SupportEventFlat is one row of the flattened query view: the event joined
// with its session context. Read-only.
type SupportEventFlat struct {
	SupportEvent
	UserID    uuid.UUID  `json:"user_id"`
	Surface   string     `json:"surface,omitempty"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
}
