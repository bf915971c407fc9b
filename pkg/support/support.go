// Package support implements the tamper-evident audit log behind the
// support surface. Every event is one link in a per-session SHA-256 hash
// chain; VerifyChain recomputes the chain and flags the first broken link.
package support

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// Service appends and verifies support audit events.
type Service struct {
	store  *store.SupportStore
	logger *slog.Logger
}

// NewService creates the support audit service.
func NewService(st *store.SupportStore, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger.With("component", "support")}
}

// EventHash computes one chain link:
// sha256(session_id ‖ prev_hash ‖ canonical(payload) ‖ actor_type ‖
// actor_id ‖ kind ‖ created_at). Payload canonicalization makes the hash
// independent of JSON key order.
func EventHash(ev *models.SupportEvent, prevHash string) (string, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	canonical, err := models.CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("payload is not canonicalizable: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(ev.SessionID.String()))
	h.Write([]byte(prevHash))
	h.Write(canonical)
	h.Write([]byte(ev.ActorType))
	h.Write([]byte(ev.ActorID.String()))
	h.Write([]byte(ev.Kind))
	h.Write([]byte(ev.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OpenSession starts a new audit session.
func (s *Service) OpenSession(ctx context.Context, sess *models.SupportSession) error {
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "support session opened",
		"session_id", sess.ID, "user_id", sess.UserID, "surface", sess.Surface)
	return nil
}

// Append links a new event onto the session chain. Admin events must carry
// an impersonated user id because the actor column always holds a concrete
// actor.
func (s *Service) Append(ctx context.Context, ev *models.SupportEvent) error {
	if ev.ActorType == models.ActorAdmin && ev.ImpersonatedUserID == nil {
		return fmt.Errorf("admin events require an impersonated user id")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	err := s.store.AppendEvent(ctx, ev, func(prevHash string) (string, error) {
		return EventHash(ev, prevHash)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "support event appended",
		"session_id", ev.SessionID, "event_id", ev.ID, "kind", ev.Kind)
	return nil
}

// ChainError describes the first broken link found by VerifyChain.
type ChainError struct {
	SessionID uuid.UUID
	EventID   uuid.UUID
	Index     int
	Reason    string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("support chain broken at event %s (index %d): %s",
		e.EventID, e.Index, e.Reason)
}

// VerifyChain recomputes every hash in a session's event stream and returns
// a ChainError at the first mismatch. A nil error means the stream is intact.
func (s *Service) VerifyChain(ctx context.Context, sessionID uuid.UUID) error {
	events, err := s.store.ListEvents(ctx, sessionID)
	if err != nil {
		return err
	}
	prevHash := ""
	for i, ev := range events {
		if ev.PrevHash != prevHash {
			return &ChainError{SessionID: sessionID, EventID: ev.ID, Index: i,
				Reason: "prev_hash does not match preceding event"}
		}
		want, err := EventHash(ev, prevHash)
		if err != nil {
			return &ChainError{SessionID: sessionID, EventID: ev.ID, Index: i,
				Reason: "payload not canonicalizable"}
		}
		if ev.EventHash != want {
			return &ChainError{SessionID: sessionID, EventID: ev.ID, Index: i,
				Reason: "event_hash mismatch"}
		}
		prevHash = ev.EventHash
	}
	return nil
}

// Events returns the session's events in chain order.
func (s *Service) Events(ctx context.Context, sessionID uuid.UUID) ([]*models.SupportEvent, error) {
	return s.store.ListEvents(ctx, sessionID)
}

// Session returns the session record.
func (s *Service) Session(ctx context.Context, id uuid.UUID) (*models.SupportSession, error) {
	return s.store.GetSession(ctx, id)
}
