package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// Ledger fronts the provider_runs table for processors. Every outbound call
// begins with an idempotency-key upsert; a requeue that replays the same
// logical step lands on the existing row and resumes from its recorded state
// instead of re-submitting.
type Ledger struct {
	runs   *store.ProviderRunStore
	logger *slog.Logger
}

// NewLedger creates the ledger wrapper.
func NewLedger(runs *store.ProviderRunStore, logger *slog.Logger) *Ledger {
	return &Ledger{runs: runs, logger: logger.With("component", "provider_ledger")}
}

// Key builds an idempotency key as a pure function of the logical step,
// e.g. Key("face_video", jobID.String(), faceHash, audioHash).
func Key(provider string, parts ...string) string {
	return provider + ":" + strings.Join(parts, ":")
}

// Begin upserts the ledger row for one logical call. The returned resume
// flag is set when a previous attempt already reached the provider: for
// asynchronous calls the caller polls run.ProviderJobID, for synchronous
// calls that already terminated the caller short-circuits from the recorded
// run.Response instead of calling the provider again.
func (l *Ledger) Begin(ctx context.Context, jobID uuid.UUID, provider, idempotencyKey string, request any) (run *models.ProviderRun, resume bool, err error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode provider request: %w", err)
	}
	run, err = l.runs.Upsert(ctx, jobID, provider, idempotencyKey, payload)
	if err != nil {
		return nil, false, err
	}
	// Synchronous providers never set a provider job id; their terminal
	// status alone marks the run as having reached the provider.
	resume = run.ProviderStatus.Resumable() &&
		(run.ProviderJobID != "" || run.ProviderStatus.IsTerminal())
	if resume {
		l.logger.InfoContext(ctx, "resuming provider run",
			"job_id", jobID, "idempotency_key", idempotencyKey,
			"provider_job_id", run.ProviderJobID, "provider_status", run.ProviderStatus)
	}
	return run, resume, nil
}

// Submitted records the provider-assigned job id.
func (l *Ledger) Submitted(ctx context.Context, run *models.ProviderRun, providerJobID string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}
	if err := l.runs.MarkSubmitted(ctx, run.ID, providerJobID, body); err != nil {
		return err
	}
	run.ProviderJobID = providerJobID
	run.ProviderStatus = models.RunSubmitted
	return nil
}

// Running records an in-progress poll observation.
func (l *Ledger) Running(ctx context.Context, run *models.ProviderRun) error {
	if run.ProviderStatus == models.RunRunning {
		return nil
	}
	if err := l.runs.SetStatus(ctx, run.ID, models.RunRunning); err != nil {
		return err
	}
	run.ProviderStatus = models.RunRunning
	return nil
}

// Succeeded records the terminal success with the final response body.
func (l *Ledger) Succeeded(ctx context.Context, run *models.ProviderRun, response any) error {
	return l.finish(ctx, run, models.RunSucceeded, response)
}

// Failed records the terminal failure with the error context.
func (l *Ledger) Failed(ctx context.Context, run *models.ProviderRun, cause error) error {
	return l.finish(ctx, run, models.RunFailed, map[string]string{"error": cause.Error()})
}

func (l *Ledger) finish(ctx context.Context, run *models.ProviderRun, status models.ProviderStatus, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}
	if err := l.runs.Complete(ctx, run.ID, status, body); err != nil {
		return err
	}
	run.ProviderStatus = status
	return nil
}

// RecordPerformance upserts the fusion outcome row.
func (l *Ledger) RecordPerformance(ctx context.Context, p *models.Performance) error {
	return l.runs.UpsertPerformance(ctx, p)
}
