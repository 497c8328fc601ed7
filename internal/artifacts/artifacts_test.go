package artifacts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefURI(t *testing.T) {
	ref := Ref{Scheme: SchemeDockerfile, SessionID: "ses_123", Type: "result", ID: "cand_9"}
	assert.Equal(t, "dockerfile://ses_123/result:cand_9", ref.URI())
}

func TestParseURI(t *testing.T) {
	ref, err := ParseURI("build-log://ses_123/result:cand_9")
	require.NoError(t, err)
	assert.Equal(t, Ref{Scheme: SchemeBuildLog, SessionID: "ses_123", Type: "result", ID: "cand_9"}, ref)

	for _, uri := range []string{"", "no-scheme", "x://", "x://sid", "x://sid/typeonly"} {
		_, err := ParseURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(nil, nil)
	require.NoError(t, err)

	ref := Ref{Scheme: SchemeAnalysis, SessionID: "ses_a", Type: "result", ID: "1"}
	store.Put(ref, map[string]string{"language": "go"})

	got, err := store.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"language": "go"}, got)

	_, err = store.Get(Ref{Scheme: SchemeAnalysis, SessionID: "ses_a", Type: "result", ID: "2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListSession(t *testing.T) {
	store, err := NewStore(nil, nil)
	require.NoError(t, err)

	store.Put(Ref{Scheme: SchemeAnalysis, SessionID: "ses_a", Type: "result", ID: "1"}, "a")
	store.Put(Ref{Scheme: SchemeDockerfile, SessionID: "ses_a", Type: "result", ID: "2"}, "b")
	store.Put(Ref{Scheme: SchemeAnalysis, SessionID: "ses_b", Type: "result", ID: "3"}, "c")

	assert.Len(t, store.ListSession("ses_a"), 2)
	assert.Len(t, store.ListSession("ses_b"), 1)
	assert.Equal(t, 3, store.Len())
}

func TestStoreTTL(t *testing.T) {
	store, err := NewStore(&Config{TTL: 10 * time.Millisecond, CleanupInterval: time.Minute}, nil)
	require.NoError(t, err)

	ref := Ref{Scheme: SchemeScanReport, SessionID: "ses_a", Type: "result", ID: "1"}
	store.Put(ref, "payload")
	time.Sleep(20 * time.Millisecond)

	_, err = store.Get(ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{TTL: 0, CleanupInterval: time.Minute}).Validate())
	assert.Error(t, (&Config{TTL: time.Minute, CleanupInterval: 0}).Validate())
}
