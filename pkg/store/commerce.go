package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// CommerceStore owns pricing quotes and the campaign state machine.
type CommerceStore struct {
	pool *pgxpool.Pool
}

// InsertQuote persists a freshly priced quote.
func (s *CommerceStore) InsertQuote(ctx context.Context, q *models.CommerceQuote) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	breakdown := q.Breakdown
	if len(breakdown) == 0 {
		breakdown = json.RawMessage(`{}`)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO commerce_quotes (id, user_id, job_id, amount_cents, currency, breakdown, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		q.ID, q.UserID, q.JobID, q.AmountCents, q.Currency, []byte(breakdown), q.ExpiresAt,
	).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert commerce quote: %w", err)
	}
	return nil
}

// GetQuoteOwned returns the quote only if it belongs to userID.
func (s *CommerceStore) GetQuoteOwned(ctx context.Context, id, userID uuid.UUID) (*models.CommerceQuote, error) {
	var q models.CommerceQuote
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, job_id, amount_cents, currency, breakdown, expires_at, created_at
		FROM commerce_quotes WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&q.ID, &q.UserID, &q.JobID, &q.AmountCents, &q.Currency, &q.Breakdown, &q.ExpiresAt, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commerce quote: %w", err)
	}
	return &q, nil
}

const campaignColumns = `id, user_id, quote_id, studio_job_id, status, meta, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.CommerceCampaign, error) {
	var c models.CommerceCampaign
	err := row.Scan(&c.ID, &c.UserID, &c.QuoteID, &c.StudioJobID, &c.Status,
		&c.Meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan commerce campaign: %w", err)
	}
	return &c, nil
}

// CreateCampaign inserts a campaign in its initial status.
func (s *CommerceStore) CreateCampaign(ctx context.Context, c *models.CommerceCampaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	meta := c.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO commerce_campaigns (id, user_id, quote_id, studio_job_id, status, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.QuoteID, c.StudioJobID, c.Status, []byte(meta),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create commerce campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign by id.
func (s *CommerceStore) GetCampaign(ctx context.Context, id uuid.UUID) (*models.CommerceCampaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM commerce_campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// TransitionCampaign advances a campaign from one status to the next. The
// state machine check runs in Go, the concurrency check runs in SQL: the
// update applies only if the row is still in the expected status.
func (s *CommerceStore) TransitionCampaign(ctx context.Context, id uuid.UUID, from, to models.CampaignStatus) error {
	if !models.CanTransitionCampaign(from, to) {
		return ErrInvalidState
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE commerce_campaigns SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// AttachStudioJob links the campaign's generation job once it is submitted.
func (s *CommerceStore) AttachStudioJob(ctx context.Context, id, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE commerce_campaigns SET studio_job_id = $2, updated_at = now()
		WHERE id = $1`, id, jobID)
	if err != nil {
		return fmt.Errorf("failed to attach studio job: %w", err)
	}
	return nil
}

// SetCampaignMeta records per-step partial outcomes.
func (s *CommerceStore) SetCampaignMeta(ctx context.Context, id uuid.UUID, meta json.RawMessage) error {
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE commerce_campaigns SET meta = $2, updated_at = now()
		WHERE id = $1`, id, []byte(meta))
	if err != nil {
		return fmt.Errorf("failed to set campaign meta: %w", err)
	}
	return nil
}

// ListCampaignsByUser returns the user's campaigns, newest first.
func (s *CommerceStore) ListCampaignsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CommerceCampaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM commerce_campaigns
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.CommerceCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
