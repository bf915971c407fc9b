// Package dashboard materializes the per-user dashboard view: job gauges,
// alerts, and media carousels. Reads never block on computation; staleness
// enqueues a coalesced refresh consumed by the background worker.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// jobListLimit bounds how many recent jobs feed one dashboard computation.
const jobListLimit = 200

// Service serves and computes dashboard views.
type Service struct {
	cfg    *config.DashboardConfig
	stores *store.Stores
	signer *blob.Signer
	logger *slog.Logger
}

// NewService creates the dashboard service.
func NewService(cfg *config.DashboardConfig, stores *store.Stores, signer *blob.Signer, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, stores: stores, signer: signer, logger: logger}
}

// Gauges is the aggregate job-state view on the dashboard.
type Gauges struct {
	Queued    int            `json:"queued"`
	Running   int            `json:"running"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Canceled  int            `json:"canceled"`
	ByStudio  map[string]int `json:"by_studio"`
}

// Alert is one attention-needing condition: a failed job or one parked on a
// required user action.
type Alert struct {
	JobID   uuid.UUID `json:"job_id"`
	Studio  string    `json:"studio"`
	Kind    string    `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Alert kinds.
const (
	AlertJobFailed      = "job_failed"
	AlertActionRequired = "action_required"
)

// Get returns the user's dashboard from cache without blocking on
// computation. A stale row is served as-is with a refresh enqueued behind
// it; a cold cache computes inline when force_on_miss is set, otherwise an
// empty view is returned with the refresh pending.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.DashboardCache, error) {
	c, err := s.stores.Dashboard.GetCache(ctx, userID)
	switch {
	case err == nil:
		if time.Since(c.UpdatedAt) > s.cfg.StaleAfter {
			if err := s.stores.Dashboard.EnqueueRefresh(ctx, userID); err != nil {
				s.logger.WarnContext(ctx, "enqueueing dashboard refresh failed",
					"user_id", userID, "error", err)
			}
		}
		s.refreshURLs(c)
		return c, nil

	case errors.Is(err, store.ErrNotFound):
		if !s.cfg.ForceOnMiss {
			if err := s.stores.Dashboard.EnqueueRefresh(ctx, userID); err != nil {
				s.logger.WarnContext(ctx, "enqueueing dashboard refresh failed",
					"user_id", userID, "error", err)
			}
			return emptyView(userID), nil
		}
		c, err := s.Compute(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("computing dashboard for %s: %w", userID, err)
		}
		if err := s.stores.Dashboard.UpsertCache(ctx, c); err != nil {
			s.logger.WarnContext(ctx, "caching computed dashboard failed",
				"user_id", userID, "error", err)
		}
		s.refreshURLs(c)
		return c, nil

	default:
		return nil, err
	}
}

// Compute builds the full dashboard view from the job and artifact tables.
// Carousel URLs are left unsigned here; refreshURLs mints them at read time.
func (s *Service) Compute(ctx context.Context, userID uuid.UUID) (*models.DashboardCache, error) {
	jobs, err := s.stores.Jobs.ListByUser(ctx, userID, jobListLimit)
	if err != nil {
		return nil, err
	}

	gauges := Gauges{ByStudio: map[string]int{}}
	var alerts []Alert
	for _, j := range jobs {
		gauges.ByStudio[string(j.StudioType)]++
		switch j.Status {
		case models.JobQueued:
			gauges.Queued++
		case models.JobRunning, models.JobStitching:
			gauges.Running++
		case models.JobSucceeded:
			gauges.Succeeded++
		case models.JobFailed:
			gauges.Failed++
			alerts = append(alerts, Alert{
				JobID:   j.ID,
				Studio:  string(j.StudioType),
				Kind:    AlertJobFailed,
				Code:    j.ErrorCode,
				Message: j.ErrorMessage,
				At:      j.UpdatedAt,
			})
		case models.JobCanceled:
			gauges.Canceled++
		}
		if action := j.Meta.RequiredAction(); action != "" && j.Status == models.JobRunning {
			alerts = append(alerts, Alert{
				JobID:   j.ID,
				Studio:  string(j.StudioType),
				Kind:    AlertActionRequired,
				Message: action,
				At:      j.UpdatedAt,
			})
		}
	}

	recent, err := s.stores.Artifacts.ListRecentByUser(ctx, userID, s.cfg.CarouselSize)
	if err != nil {
		return nil, err
	}
	recentCarousel := make([]models.CarouselItem, 0, len(recent))
	for _, a := range recent {
		recentCarousel = append(recentCarousel, models.CarouselItem{
			ArtifactID:  a.ID,
			Kind:        a.Kind,
			URL:         a.URL,
			StoragePath: a.StoragePath(),
			CreatedAt:   a.CreatedAt,
		})
	}

	assets, err := s.stores.Assets.ListByUser(ctx, userID, "", s.cfg.CarouselSize)
	if err != nil {
		return nil, err
	}
	assetCarousel := make([]models.CarouselItem, 0, len(assets))
	for _, a := range assets {
		assetCarousel = append(assetCarousel, models.CarouselItem{
			ArtifactID: a.ID,
			Kind:       a.Kind,
			URL:        a.URL,
			CreatedAt:  a.CreatedAt,
		})
	}

	gaugesJSON, err := json.Marshal(gauges)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return nil, err
	}
	return &models.DashboardCache{
		UserID:         userID,
		Gauges:         gaugesJSON,
		Alerts:         alertsJSON,
		RecentCarousel: recentCarousel,
		AssetCarousel:  assetCarousel,
		UpdatedAt:      time.Now().UTC(),
	}, nil
}

// refreshURLs re-signs carousel tiles that carry a stable blob identity.
// Cached URLs may have expired between computation and read.
func (s *Service) refreshURLs(c *models.DashboardCache) {
	for _, carousel := range [][]models.CarouselItem{c.RecentCarousel, c.AssetCarousel} {
		for i := range carousel {
			item := &carousel[i]
			if item.StoragePath == "" {
				continue
			}
			container := s.signer.Container(string(item.Kind))
			item.URL = s.signer.SignPath(container, item.StoragePath,
				s.signer.TTLFor(item.Kind, item.CreatedAt))
		}
	}
}

func emptyView(userID uuid.UUID) *models.DashboardCache {
	return &models.DashboardCache{
		UserID:         userID,
		Gauges:         json.RawMessage(`{}`),
		Alerts:         json.RawMessage(`[]`),
		RecentCarousel: []models.CarouselItem{},
		AssetCarousel:  []models.CarouselItem{},
	}
}
