package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DashboardCache is the per-user materialized dashboard view. Readers return
// it immediately; staleness triggers an asynchronous refresh request instead
// of blocking the reader.
type DashboardCache struct {
	UserID         uuid.UUID       `json:"user_id"`
	Gauges         json.RawMessage `json:"gauges"`
	Alerts         json.RawMessage `json:"alerts"`
	RecentCarousel []CarouselItem  `json:"recent_carousel"`
	AssetCarousel  []CarouselItem  `json:"asset_carousel"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CarouselItem is one dashboard tile. URL is re-signed at read time from
// StoragePath; the persisted value may have expired.
type CarouselItem struct {
	ArtifactID  uuid.UUID    `json:"artifact_id"`
	Kind        ArtifactKind `json:"kind"`
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url"`
	StoragePath string       `json:"storage_path,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DashboardRefreshRequest is the coalesced per-user refresh signal; one row
// per user is sufficient, consumed by the dashboard worker.
type DashboardRefreshRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}
