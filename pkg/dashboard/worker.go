package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/store"
)

// Worker consumes the coalesced refresh queue and recomputes dashboards.
// Batches stay row-locked for the duration of one cycle, so concurrent
// workers never recompute the same user twice.
type Worker struct {
	cfg    *config.DashboardConfig
	svc    *Service
	stores *store.Stores
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates the refresh worker.
func NewWorker(cfg *config.DashboardConfig, svc *Service, stores *store.Stores, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		svc:    svc,
		stores: stores,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches the refresh loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop and waits for the in-flight cycle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()
	w.logger.InfoContext(ctx, "dashboard refresh worker started",
		"interval", w.cfg.RefreshInterval)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.refreshBatch(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "dashboard refresh cycle failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.DebugContext(ctx, "dashboards refreshed", "count", n)
			}
		}
	}
}

// refreshBatch recomputes one locked batch of pending users. A single user's
// failure is logged and skipped; the batch still commits so one broken
// account cannot wedge the queue.
func (w *Worker) refreshBatch(ctx context.Context) (int, error) {
	return w.stores.Dashboard.WithRefreshBatch(ctx, w.cfg.RefreshBatchSize,
		func(ctx context.Context, userIDs []uuid.UUID) error {
			for _, userID := range userIDs {
				c, err := w.svc.Compute(ctx, userID)
				if err != nil {
					w.logger.WarnContext(ctx, "dashboard compute failed",
						"user_id", userID, "error", err)
					continue
				}
				if err := w.stores.Dashboard.UpsertCache(ctx, c); err != nil {
					w.logger.WarnContext(ctx, "dashboard cache write failed",
						"user_id", userID, "error", err)
				}
			}
			return nil
		})
}
