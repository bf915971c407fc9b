package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/database"
	"github.com/skylark-media/atelier/pkg/observe"
	"github.com/skylark-media/atelier/pkg/store"
	"github.com/skylark-media/atelier/pkg/studio"
)

// WorkerPool owns the per-studio workers plus the long-form side loops
// (segment drain, stitch) and the maintenance loops (stale reclaim, backlog
// gauges). One pool per process; the pod id prefixes every claimed_by so
// startup can recover rows orphaned by the previous incarnation.
type WorkerPool struct {
	podID    string
	cfg      *config.Config
	db       *database.Client
	stores   *store.Stores
	registry studio.Registry
	segments *studio.SegmentProcessor
	stitcher *studio.Stitcher
	metrics  *observe.Metrics
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	workers  []*Worker
}

// PoolHealth aggregates pool state for the health endpoint.
type PoolHealth struct {
	Database    database.HealthStatus `json:"database"`
	DueByStudio map[string]int        `json:"due_by_studio"`
	Workers     []WorkerHealth        `json:"workers"`
}

// NewWorkerPool creates the pool. podID must be stable for the process
// lifetime and unique across replicas.
func NewWorkerPool(podID string, cfg *config.Config, db *database.Client, stores *store.Stores,
	registry studio.Registry, segments *studio.SegmentProcessor, stitcher *studio.Stitcher,
	logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		cfg:      cfg,
		db:       db,
		stores:   stores,
		registry: registry,
		segments: segments,
		stitcher: stitcher,
		metrics:  observe.DefaultMetrics(),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start recovers startup orphans, launches the per-studio workers, and
// starts the side loops.
func (p *WorkerPool) Start(ctx context.Context) error {
	// Rows still claimed by a previous run of this pod are unreachable by
	// their executors; requeue them before claiming anything new.
	orphans, err := p.stores.Jobs.RequeueOwnedBy(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("requeueing startup orphans: %w", err)
	}
	if orphans > 0 {
		p.logger.WarnContext(ctx, "requeued startup orphans", "pod_id", p.podID, "count", orphans)
	}

	for studioType, processor := range p.registry {
		for i := range p.cfg.Queue.WorkersPerStudio {
			id := fmt.Sprintf("%s-%s-%d", p.podID, studioType, i)
			w := NewWorker(id, studioType, processor, p.cfg.Queue, p.stores.Jobs, p.metrics, p.logger)
			w.Start(ctx)
			p.workers = append(p.workers, w)
		}
	}

	p.wg.Add(3)
	go p.gaugeLoop(ctx)
	go p.segmentLoop(ctx)
	go p.stitchLoop(ctx)
	if p.cfg.Queue.StaleAfter > 0 {
		p.wg.Add(1)
		go p.reclaimLoop(ctx)
	}

	p.logger.InfoContext(ctx, "worker pool started",
		"pod_id", p.podID, "workers", len(p.workers), "studios", len(p.registry))
	return nil
}

// Stop drains the workers and side loops.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "pod_id", p.podID)
}

// Health reports database reachability, per-studio backlog, and per-worker
// activity.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	h := &PoolHealth{
		Database:    p.db.Health(ctx),
		DueByStudio: make(map[string]int, len(p.registry)),
	}
	for studioType := range p.registry {
		n, err := p.stores.Jobs.CountDue(ctx, studioType)
		if err != nil {
			continue
		}
		h.DueByStudio[string(studioType)] = n
	}
	for _, w := range p.workers {
		h.Workers = append(h.Workers, w.Health())
	}
	return h
}

// gaugeLoop samples per-studio backlog on the heartbeat interval.
func (p *WorkerPool) gaugeLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Queue.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for studioType := range p.registry {
				n, err := p.stores.Jobs.CountDue(ctx, studioType)
				if err != nil {
					p.logger.WarnContext(ctx, "counting due jobs failed",
						"studio", studioType, "error", err)
					continue
				}
				p.metrics.RecordDueJobs(ctx, string(studioType), n)
				if n > 0 {
					p.logger.DebugContext(ctx, "queue backlog",
						"studio", studioType, "due_count", n)
				}
			}
		}
	}
}

// reclaimLoop requeues running jobs and segments whose executors stopped
// heartbeating. The provider ledger keeps a reclaimed job's second executor
// from repeating outbound calls that already happened.
func (p *WorkerPool) reclaimLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Queue.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := p.stores.Jobs.ReclaimStale(ctx, p.cfg.Queue.StaleAfter)
			if err != nil {
				p.logger.ErrorContext(ctx, "stale job reclaim failed", "error", err)
			} else if len(ids) > 0 {
				p.logger.WarnContext(ctx, "reclaimed stale jobs", "count", len(ids))
			}

			n, err := p.stores.Longform.ReclaimStaleSegments(ctx, p.cfg.Queue.StaleAfter)
			if err != nil {
				p.logger.ErrorContext(ctx, "stale segment reclaim failed", "error", err)
			} else if n > 0 {
				p.logger.WarnContext(ctx, "reclaimed stale segments", "count", n)
			}
		}
	}
}

// sleep waits for d or until the pool is stopped.
func (p *WorkerPool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stopCh:
	case <-timer.C:
	}
}

func (p *WorkerPool) stopping(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
