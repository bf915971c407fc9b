package studio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
)

// SegmentProcessor runs one long-form segment through its sequential
// sub-state machine: TTS for the chunk text, then face-video with the
// rendered narration, then poll to completion. Outcomes are written straight
// to the store; CompleteSegment and FailSegment carry the parent-level
// consequences (stitching hand-off, fail-fast).
type SegmentProcessor struct {
	d *Deps
}

// NewSegmentProcessor creates the segment processor.
func NewSegmentProcessor(d *Deps) *SegmentProcessor {
	return &SegmentProcessor{d: d}
}

// Process advances one claimed segment to a terminal state or releases it
// back to the queue on a transient failure. The returned error is
// informational; all state consequences are already persisted.
func (p *SegmentProcessor) Process(ctx context.Context, seg *models.LongformSegment) error {
	parent, err := p.d.Stores.Longform.Get(ctx, seg.ParentJobID)
	if err != nil {
		p.release(ctx, seg)
		return fmt.Errorf("loading parent %s: %w", seg.ParentJobID, err)
	}
	parentJob, err := p.d.Stores.Jobs.Get(ctx, seg.ParentJobID)
	if err != nil {
		p.release(ctx, seg)
		return fmt.Errorf("loading parent job %s: %w", seg.ParentJobID, err)
	}

	audioURL, err := p.synthesize(ctx, parentJob, parent, seg)
	if err != nil {
		return p.settle(ctx, seg, err)
	}

	if err := p.d.Stores.Longform.MarkVideoRunning(ctx, seg.ID, audioURL, nil, nil); err != nil {
		p.release(ctx, seg)
		return fmt.Errorf("advancing segment %s: %w", seg.ID, err)
	}

	videoURL, err := p.animate(ctx, parentJob, parent, seg, audioURL)
	if err != nil {
		return p.settle(ctx, seg, err)
	}

	storagePath, err := p.persist(ctx, parentJob, seg, videoURL)
	if err != nil {
		return p.settle(ctx, seg, err)
	}

	allDone, err := p.d.Stores.Longform.CompleteSegment(ctx, seg.ID, videoURL, storagePath)
	if err != nil {
		return fmt.Errorf("completing segment %s: %w", seg.ID, err)
	}
	if allDone {
		p.d.Logger.InfoContext(ctx, "all segments complete, parent handed to stitcher",
			"job_id", seg.ParentJobID)
	}
	return nil
}

// synthesize renders the segment narration.
func (p *SegmentProcessor) synthesize(ctx context.Context, parentJob *models.Job, parent *models.LongformJob, seg *models.LongformSegment) (string, error) {
	key := provider.Key("tts", seg.ParentJobID.String(), "seg", fmt.Sprint(seg.SegmentIndex))
	run, resume, err := p.d.Ledger.Begin(ctx, seg.ParentJobID, "tts", key, map[string]any{
		"text": seg.TextChunk, "segment": seg.SegmentIndex,
	})
	if err != nil {
		return "", err
	}
	if resume && run.ProviderStatus == models.RunSucceeded {
		if seg.AudioURL != "" {
			return seg.AudioURL, nil
		}
		// The narration was rendered but the segment row never advanced;
		// recover the audio URL from the recorded response.
		var prior provider.TTSVariant
		if err := json.Unmarshal(run.Response, &prior); err == nil && prior.AudioURL != "" {
			return prior.AudioURL, nil
		}
	}

	variants, err := p.d.TTS.Synthesize(ctx, &provider.TTSRequest{
		Text: seg.TextChunk,
	})
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		return "", err
	}
	if len(variants) == 0 {
		err := &provider.Error{Provider: "tts", Code: models.CodeProvider4xx,
			Message: "no audio produced for segment"}
		_ = p.d.Ledger.Failed(ctx, run, err)
		return "", err
	}
	if err := p.d.Ledger.Succeeded(ctx, run, variants[0]); err != nil {
		p.d.Logger.WarnContext(ctx, "segment tts ledger finish failed",
			"segment_id", seg.ID, "error", err)
	}
	return variants[0].AudioURL, nil
}

// animate submits and polls the face-video job for the segment.
func (p *SegmentProcessor) animate(ctx context.Context, parentJob *models.Job, parent *models.LongformJob, seg *models.LongformSegment, audioURL string) (string, error) {
	payload, err := models.DecodePayload[models.LongformPayload](parentJob.Payload)
	if err != nil {
		return "", &provider.Error{Provider: "face_video", Code: models.CodeBadRequest, Message: err.Error()}
	}
	faceURL := ""
	if payload.FaceArtifactID != nil {
		a, err := p.d.Stores.Artifacts.Get(ctx, *payload.FaceArtifactID)
		if err != nil {
			return "", &provider.Error{Provider: "face_video", Code: models.CodeInvalidFaceInput,
				Message: fmt.Sprintf("face artifact %s: %v", payload.FaceArtifactID, err)}
		}
		faceURL = p.d.Signer.FreshURL(a)
	}

	key := provider.Key("face_video", seg.ParentJobID.String(), "seg", fmt.Sprint(seg.SegmentIndex))
	run, resume, err := p.d.Ledger.Begin(ctx, seg.ParentJobID, "face_video", key, map[string]any{
		"audio_url": audioURL, "segment": seg.SegmentIndex,
	})
	if err != nil {
		return "", err
	}

	if !resume || run.ProviderJobID == "" {
		imageKey, err := p.d.FaceVideo.UploadImage(ctx, faceURL)
		if err != nil {
			_ = p.d.Ledger.Failed(ctx, run, err)
			return "", err
		}
		providerJobID, err := p.d.FaceVideo.Submit(ctx, &provider.FaceVideoRequest{
			ImageKey:    imageKey,
			AudioURL:    audioURL,
			AspectRatio: parent.AspectRatio,
		})
		if err != nil {
			_ = p.d.Ledger.Failed(ctx, run, err)
			return "", err
		}
		if err := p.d.Ledger.Submitted(ctx, run, providerJobID, nil); err != nil {
			return "", err
		}
	}

	_ = p.d.Ledger.Running(ctx, run)
	st, err := p.d.FaceVideo.Poll(ctx, run.ProviderJobID)
	if err != nil {
		_ = p.d.Ledger.Failed(ctx, run, err)
		return "", err
	}
	if st.Status != "completed" {
		err := &provider.Error{Provider: "face_video", Code: models.CodeProvider4xx,
			Message: "segment video failed: " + st.FailReason}
		_ = p.d.Ledger.Failed(ctx, run, err)
		return "", err
	}
	if err := p.d.Ledger.Succeeded(ctx, run, st); err != nil {
		p.d.Logger.WarnContext(ctx, "segment fusion ledger finish failed",
			"segment_id", seg.ID, "error", err)
	}
	return st.VideoURL, nil
}

// persist stores the segment video under the long-form path convention
// {user_id}/{job_id}/{segment}.{ext} and returns the storage path.
func (p *SegmentProcessor) persist(ctx context.Context, parentJob *models.Job, seg *models.LongformSegment, videoURL string) (string, error) {
	data, contentType, err := p.d.FaceVideo.Download(ctx, videoURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "video/mp4"
	}
	container := p.d.Cfg.Storage.Container(string(models.KindVideo))
	path := fmt.Sprintf("%s/%s/%d.mp4", parentJob.UserID, seg.ParentJobID, seg.SegmentIndex)
	if _, err := p.d.Blob.Upload(ctx, container, path, data, contentType); err != nil {
		return "", &provider.Error{Provider: "blob", Code: models.CodeNetworkError, Message: err.Error()}
	}
	return path, nil
}

// settle translates a provider failure into the segment's fate: transient
// errors release it for another attempt, permanent ones fail it (and with
// it, fail-fast, the parent).
func (p *SegmentProcessor) settle(ctx context.Context, seg *models.LongformSegment, cause error) error {
	code, transient := provider.Classify(cause)
	if transient {
		p.release(ctx, seg)
		return cause
	}
	if err := p.d.Stores.Longform.FailSegment(ctx, seg.ID, code, cause.Error()); err != nil {
		p.d.Logger.ErrorContext(ctx, "failing segment failed",
			"segment_id", seg.ID, "error", err)
	}
	return cause
}

func (p *SegmentProcessor) release(ctx context.Context, seg *models.LongformSegment) {
	if err := p.d.Stores.Longform.ReleaseSegment(ctx, seg.ID); err != nil {
		p.d.Logger.WarnContext(ctx, "releasing segment failed",
			"segment_id", seg.ID, "error", err)
	}
}
