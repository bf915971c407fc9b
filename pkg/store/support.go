package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// SupportStore owns support sessions and their hash-chained event streams.
// Appends serialize per session through a transaction-scoped advisory lock,
// so the prev_hash read and the insert are atomic even across processes.
type SupportStore struct {
	pool *pgxpool.Pool
}

const supportEventColumns = `id, session_id, kind, actor_type, actor_id,
	impersonated_user_id, payload, COALESCE(prev_hash, ''), event_hash, created_at`

func scanSupportEvent(row pgx.Row) (*models.SupportEvent, error) {
	var ev models.SupportEvent
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.ActorType, &ev.ActorID,
		&ev.ImpersonatedUserID, &ev.Payload, &ev.PrevHash, &ev.EventHash, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan support event: %w", err)
	}
	return &ev, nil
}

// CreateSession opens a new audit session.
func (s *SupportStore) CreateSession(ctx context.Context, sess *models.SupportSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO support_sessions (id, user_id, surface, project_id, job_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		sess.ID, sess.UserID, sess.Surface, sess.ProjectID, sess.JobID,
	).Scan(&sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create support session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SupportStore) GetSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error) {
	var sess models.SupportSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, surface, project_id, job_id, created_at
		FROM support_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Surface, &sess.ProjectID, &sess.JobID, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get support session: %w", err)
	}
	return &sess, nil
}

// AppendEvent links a new event onto the session chain. The caller supplies
// the chain math through hashFn: the store reads the tail hash under the
// session's advisory lock, asks hashFn for the new event hash, and inserts.
// Concurrent appends to the same session queue behind the lock; appends to
// different sessions do not contend.
func (s *SupportStore) AppendEvent(ctx context.Context, ev *models.SupportEvent, hashFn func(prevHash string) (string, error)) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	// The timestamp participates in the event hash, so it is fixed here
	// rather than left to the column default.
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1::text))`, ev.SessionID)
		if err != nil {
			return fmt.Errorf("failed to take session lock: %w", err)
		}

		var prevHash string
		err = tx.QueryRow(ctx, `
			SELECT event_hash FROM support_events
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1`, ev.SessionID).Scan(&prevHash)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read chain tail: %w", err)
		}

		eventHash, err := hashFn(prevHash)
		if err != nil {
			return fmt.Errorf("failed to compute event hash: %w", err)
		}
		ev.PrevHash = prevHash
		ev.EventHash = eventHash

		_, err = tx.Exec(ctx, `
			INSERT INTO support_events (id, session_id, kind, actor_type,
				actor_id, impersonated_user_id, payload, prev_hash, event_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
			ev.ID, ev.SessionID, ev.Kind, ev.ActorType,
			ev.ActorID, ev.ImpersonatedUserID, []byte(payload), ev.PrevHash, ev.EventHash,
			ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert support event: %w", err)
		}
		return nil
	})
}

// ListEvents returns the session's events in chain order.
func (s *SupportStore) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]*models.SupportEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+supportEventColumns+` FROM support_events
		WHERE session_id = $1
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list support events: %w", err)
	}
	defer rows.Close()

	var events []*models.SupportEvent
	for rows.Next() {
		ev, err := scanSupportEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListFlatByUser reads the flattened view across all of a user's sessions,
// newest first. Admin tooling surface.
func (s *SupportStore) ListFlatByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.SupportEventFlat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, kind, actor_type, actor_id,
		       impersonated_user_id, payload, COALESCE(prev_hash, ''), event_hash,
		       created_at, user_id, surface, project_id, job_id
		FROM support_events_flat
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flat support events: %w", err)
	}
	defer rows.Close()

	var events []*models.SupportEventFlat
	for rows.Next() {
		var ev models.SupportEventFlat
		err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.ActorType, &ev.ActorID,
			&ev.ImpersonatedUserID, &ev.Payload, &ev.PrevHash, &ev.EventHash,
			&ev.CreatedAt, &ev.UserID, &ev.Surface, &ev.ProjectID, &ev.JobID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flat support event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
