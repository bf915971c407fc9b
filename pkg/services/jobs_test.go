package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

func newValidationService(t *testing.T) *JobService {
	t.Helper()
	cfg := &config.Config{
		Providers: config.DefaultProvidersConfig(),
		Longform:  config.DefaultLongformConfig(),
	}
	return NewJobService(cfg, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, code, verr.Code)
}

func TestValidateFacePayload(t *testing.T) {
	s := newValidationService(t)

	assert.NoError(t, s.validatePayload(models.StudioFace,
		json.RawMessage(`{"prompt":"a portrait","locale":"en"}`)))

	err := s.validatePayload(models.StudioFace, json.RawMessage(`{"prompt":"  "}`))
	assertCode(t, err, models.CodeBadRequest)

	err = s.validatePayload(models.StudioFace,
		json.RawMessage(`{"prompt":"a portrait","locale":"xx"}`))
	assertCode(t, err, models.CodeLocaleNotAllowed)

	// An omitted locale is fine; the provider default applies.
	assert.NoError(t, s.validatePayload(models.StudioFace,
		json.RawMessage(`{"prompt":"a portrait"}`)))
}

func TestValidateAudioPayload(t *testing.T) {
	s := newValidationService(t)

	assert.NoError(t, s.validatePayload(models.StudioAudio,
		json.RawMessage(`{"text":"hello","target_locale":"fr","output_format":"wav"}`)))

	err := s.validatePayload(models.StudioAudio, json.RawMessage(`{"text":""}`))
	assertCode(t, err, models.CodeBadRequest)

	err = s.validatePayload(models.StudioAudio,
		json.RawMessage(`{"text":"hello","target_locale":"tlh"}`))
	assertCode(t, err, models.CodeLocaleNotAllowed)

	err = s.validatePayload(models.StudioAudio,
		json.RawMessage(`{"text":"hello","output_format":"flac"}`))
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidateFusionPayload(t *testing.T) {
	s := newValidationService(t)

	assert.NoError(t, s.validatePayload(models.StudioFusion,
		json.RawMessage(`{"face_url":"https://x/face.png","audio_url":"https://x/a.mp3"}`)))

	err := s.validatePayload(models.StudioFusion,
		json.RawMessage(`{"audio_url":"https://x/a.mp3"}`))
	assertCode(t, err, models.CodeBadRequest)

	err = s.validatePayload(models.StudioFusion,
		json.RawMessage(`{"face_url":"https://x/face.png"}`))
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidateMusicPayload(t *testing.T) {
	s := newValidationService(t)

	assert.NoError(t, s.validatePayload(models.StudioMusic,
		json.RawMessage(`{"prompt":"lofi beats"}`)))
	assert.NoError(t, s.validatePayload(models.StudioMusic,
		json.RawMessage(`{"lyrics":"verse one"}`)))

	err := s.validatePayload(models.StudioMusic, json.RawMessage(`{"instrumental":true}`))
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidateCommercePayload(t *testing.T) {
	s := newValidationService(t)

	for _, step := range []string{"", "quote", "confirm", "campaign"} {
		assert.NoError(t, s.validatePayload(models.StudioCommerce,
			json.RawMessage(fmt.Sprintf(`{"step":%q}`, step))), "step %q", step)
	}
	err := s.validatePayload(models.StudioCommerce, json.RawMessage(`{"step":"refund"}`))
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidateLongformPayload(t *testing.T) {
	s := newValidationService(t)

	ok := `{"script":"One sentence. Another sentence.","credential_ref":"cred-1"}`
	assert.NoError(t, s.validatePayload(models.StudioLongform, json.RawMessage(ok)))

	err := s.validatePayload(models.StudioLongform,
		json.RawMessage(`{"credential_ref":"cred-1"}`))
	assertCode(t, err, models.CodeBadRequest)

	// Async execution outlives user tokens; a service credential is mandatory.
	err = s.validatePayload(models.StudioLongform,
		json.RawMessage(`{"script":"One sentence."}`))
	assertCode(t, err, models.CodeSvcBearerMissing)

	err = s.validatePayload(models.StudioLongform,
		json.RawMessage(`{"script":"One sentence.","credential_ref":"c","segment_seconds":999}`))
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidateLongformSegmentBudget(t *testing.T) {
	s := newValidationService(t)
	cfg := s.cfg.Longform

	// Build a script that chunks past the fan-out budget: each sentence
	// estimates over the target so every sentence is its own segment.
	wordsPerSentence := cfg.DefaultSegmentSeconds*cfg.WordsPerMinute/60 + 10
	sentence := strings.TrimSpace(strings.Repeat("word ", wordsPerSentence)) + "."
	script := strings.Repeat(sentence+" ", cfg.MaxTotalSegmentsPerJob+1)

	payload, err := json.Marshal(map[string]any{
		"script":         script,
		"credential_ref": "cred-1",
	})
	require.NoError(t, err)
	verr := s.validatePayload(models.StudioLongform, payload)
	assertCode(t, verr, models.CodeTooManySegments)
}

func TestSubmitRejectsUnknownStudio(t *testing.T) {
	s := newValidationService(t)
	_, err := s.Submit(t.Context(), uuid.Nil, models.StudioType("karaoke"), nil)
	assertCode(t, err, models.CodeBadRequest)
}

func TestValidationErrorUnwrapping(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", invalid(models.CodeBadRequest, "boom"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, models.CodeBadRequest, verr.Code)
	assert.Equal(t, "bad_request: boom", verr.Error())
}
