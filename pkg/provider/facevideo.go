package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

// FaceVideoClient speaks to the face-animation provider. Submission is
// asynchronous: the provider returns a job id that is polled to completion.
// Per-call duration is capped at 120 seconds by the provider; long scripts
// must be chunked before reaching this client.
type FaceVideoClient struct {
	c            *client
	pollInterval time.Duration
	pollDeadline time.Duration
}

// NewFaceVideoClient creates the face-video provider client.
func NewFaceVideoClient(cfg *config.ProviderConfig, pollInterval, pollDeadline time.Duration, observer Observer, logger *slog.Logger) *FaceVideoClient {
	return &FaceVideoClient{
		c:            newClient("face_video", cfg, observer, logger),
		pollInterval: pollInterval,
		pollDeadline: pollDeadline,
	}
}

// FaceVideoRequest is the generation input. Exactly one of ImageKey or
// TalkingPhotoID identifies the face; exactly one of AudioURL or
// VoiceID+Script carries the narration.
type FaceVideoRequest struct {
	ImageKey       string `json:"image_key,omitempty"`
	TalkingPhotoID string `json:"talking_photo_id,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	VoiceID        string `json:"voice_id,omitempty"`
	Script         string `json:"script,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

// FaceVideoStatus is one poll observation.
type FaceVideoStatus struct {
	Status     string `json:"status"` // pending, processing, completed, failed
	VideoURL   string `json:"video_url,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}

// Terminal reports whether the provider job finished.
func (s *FaceVideoStatus) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// UploadImage registers a face image with the provider and returns the
// provider-scoped image key used in subsequent submissions.
func (f *FaceVideoClient) UploadImage(ctx context.Context, imageURL string) (string, error) {
	var resp struct {
		ImageKey string `json:"image_key"`
	}
	in := map[string]string{"image_url": imageURL}
	if err := f.c.doJSON(ctx, http.MethodPost, "/v1/images", in, &resp); err != nil {
		return "", err
	}
	if resp.ImageKey == "" {
		return "", &Error{Provider: "face_video", Code: models.CodeInvalidFaceInput,
			Message: "provider did not accept the face image"}
	}
	return resp.ImageKey, nil
}

// Submit starts a face-video generation and returns the provider job id.
func (f *FaceVideoClient) Submit(ctx context.Context, req *FaceVideoRequest) (string, error) {
	var resp struct {
		ProviderJobID string `json:"provider_job_id"`
	}
	if err := f.c.doJSON(ctx, http.MethodPost, "/v1/videos", req, &resp); err != nil {
		return "", err
	}
	if resp.ProviderJobID == "" {
		return "", &Error{Provider: "face_video", Code: models.CodeProvider4xx,
			Message: "provider accepted the submission without a job id"}
	}
	return resp.ProviderJobID, nil
}

// Status reads the provider job state once.
func (f *FaceVideoClient) Status(ctx context.Context, providerJobID string) (*FaceVideoStatus, error) {
	var resp FaceVideoStatus
	if err := f.c.doJSON(ctx, http.MethodGet, "/v1/videos/"+providerJobID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll watches the provider job until it terminates or the total-time budget
// runs out. Budget exhaustion returns a TIMEOUT-coded error; poll errors do
// not abort the loop, the budget does.
func (f *FaceVideoClient) Poll(ctx context.Context, providerJobID string) (*FaceVideoStatus, error) {
	deadline := time.NewTimer(f.pollDeadline)
	defer deadline.Stop()
	tick := time.NewTicker(f.pollInterval)
	defer tick.Stop()

	for {
		st, err := f.Status(ctx, providerJobID)
		if err == nil && st.Terminal() {
			return st, nil
		}
		if err != nil {
			f.c.logger.WarnContext(ctx, "face video poll failed",
				"provider_job_id", providerJobID, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &Error{Provider: "face_video", Code: models.CodeTimeout,
				Message: "provider job did not finish within the poll deadline"}
		case <-tick.C:
		}
	}
}

// Download fetches the finished video bytes.
func (f *FaceVideoClient) Download(ctx context.Context, videoURL string) ([]byte, string, error) {
	return f.c.download(ctx, videoURL)
}
