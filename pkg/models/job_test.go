package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{JobQueued, JobRunning},
		{JobQueued, JobCanceled},
		{JobRunning, JobSucceeded},
		{JobRunning, JobFailed},
		{JobRunning, JobCanceled},
		{JobRunning, JobStitching},
		{JobRunning, JobQueued}, // requeue with backoff
		{JobStitching, JobSucceeded},
		{JobStitching, JobFailed},
		{JobStitching, JobCanceled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to JobStatus }{
		{JobQueued, JobSucceeded},
		{JobQueued, JobStitching},
		{JobStitching, JobQueued},
		{JobSucceeded, JobRunning},
		{JobFailed, JobQueued},
		{JobCanceled, JobRunning},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, JobSucceeded.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.True(t, JobCanceled.IsTerminal())
	assert.False(t, JobQueued.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.False(t, JobStitching.IsTerminal())
}

func TestStudioTypeIsValid(t *testing.T) {
	for _, s := range AllStudios {
		assert.True(t, s.IsValid(), "%s", s)
	}
	assert.False(t, StudioType("karaoke").IsValid())
	assert.False(t, StudioType("").IsValid())
}

func TestJobMetaRequiredAction(t *testing.T) {
	var nilMeta JobMeta
	assert.Empty(t, nilMeta.RequiredAction())

	m := JobMeta{}
	m.SetRequiredAction(RequiredActionSelectCandidate)
	assert.Equal(t, RequiredActionSelectCandidate, m.RequiredAction())

	m.SetRequiredAction("")
	assert.Empty(t, m.RequiredAction())
	_, present := m["required_action"]
	assert.False(t, present, "clearing removes the key")
}

func TestCanonicalJSON(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"b": 2, "a": {"y": 1, "x": 0}}`))
	require.NoError(t, err)
	b, err := CanonicalJSON([]byte(`{"a":{"x":0,"y":1},"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":{"x":0,"y":1},"b":2}`, string(a))

	_, err = CanonicalJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestRequestHash(t *testing.T) {
	user := uuid.New()

	h1, err := RequestHash(user, []byte(`{"text": "hello", "voice": "alto"}`))
	require.NoError(t, err)
	h2, err := RequestHash(user, []byte(`{"voice":"alto","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "key order does not change the hash")
	assert.Len(t, h1, 64)

	h3, err := RequestHash(uuid.New(), []byte(`{"text":"hello","voice":"alto"}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "same payload from another user is a new request")

	h4, err := RequestHash(user, []byte(`{"text":"goodbye","voice":"alto"}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}
