package studio

import (
	"context"
	"log/slog"
	"time"

	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/compose"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
	"github.com/skylark-media/atelier/pkg/store"
)

// Deps bundles the collaborators shared by every processor.
type Deps struct {
	Stores    *store.Stores
	Ledger    *provider.Ledger
	TTS       *provider.TTSClient
	Image     *provider.ImageClient
	FaceVideo *provider.FaceVideoClient
	Music     *provider.MusicClient
	Translate *provider.TranslateClient
	Composer  compose.Composer
	Blob      *blob.Client
	Signer    *blob.Signer
	Safety    *SafetyFilter
	Pricer    Pricer
	Cfg       *config.Config
	Logger    *slog.Logger
}

// NewRegistry wires one processor per studio type.
func NewRegistry(d *Deps) Registry {
	return Registry{
		models.StudioFace:     NewFaceProcessor(d),
		models.StudioAudio:    NewAudioProcessor(d),
		models.StudioFusion:   NewFusionProcessor(d),
		models.StudioMusic:    NewMusicProcessor(d),
		models.StudioCommerce: NewCommerceProcessor(d),
		models.StudioLongform: NewLongformProcessor(d),
	}
}

// backoff returns the requeue delay for the job's current attempt.
func (d *Deps) backoff(job *models.Job) time.Duration {
	return d.Cfg.Queue.Backoff(job.AttemptCount)
}

// canceled reports whether the job was canceled since it was claimed.
// Processors call this between state-machine steps; in-flight provider calls
// are never interrupted.
func (d *Deps) canceled(ctx context.Context, job *models.Job) bool {
	ok, err := d.Stores.Jobs.IsCanceled(ctx, job.ID)
	if err != nil {
		d.Logger.WarnContext(ctx, "cancel check failed", "job_id", job.ID, "error", err)
		return false
	}
	return ok
}
