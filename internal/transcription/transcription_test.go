package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{
  "call": {"call_id": "c-1", "staff_id": "rep-9", "staff_role": "sdr", "duration_ms": 60000},
  "turns": [
    {"speaker_id": "rep", "start_ms": 0, "end_ms": 4000, "text": "Hi, is now a good time?"},
    {"speaker_id": "buyer", "start_ms": 4500, "end_ms": 6000, "text": "Sure."}
  ]
}`

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/c-1/transcript", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	doc, err := NewClient(srv.URL+"/", "k", time.Second, nil).Fetch(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "rep-9", doc.Call.StaffID)
	require.Len(t, doc.Turns, 2)
	assert.Equal(t, int64(4500), doc.Turns[1].StartMs)
	assert.Equal(t, "c-1", doc.Transcript().CallID)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	doc, err := NewClient(srv.URL, "", time.Second, nil).Fetch(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, doc.Turns, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second, nil).Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c-1", doc.Call.CallID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestMockSource_IsWellFormed(t *testing.T) {
	doc, err := MockSource{}.Fetch(context.Background(), "any")
	require.NoError(t, err)
	assert.Equal(t, "any", doc.Call.CallID)
	require.NotEmpty(t, doc.Turns)
	for i := 1; i < len(doc.Turns); i++ {
		assert.GreaterOrEqual(t, doc.Turns[i].StartMs, doc.Turns[i-1].StartMs)
		assert.GreaterOrEqual(t, doc.Turns[i].EndMs, doc.Turns[i].StartMs)
	}
}
