package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/chunker"
	"call-coach-go/internal/ingestion"
	"call-coach-go/internal/processor"
	"call-coach-go/internal/rubric"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/types"
	"call-coach-go/internal/workerpool"
)

type stubScheduler struct{ err error }

func (s stubScheduler) Schedule(types.IngestionEvent) error { return s.err }

type stubProcessor struct {
	err    error
	callID string
	force  bool
}

func (p *stubProcessor) ProcessCall(_ context.Context, callID string, force bool) (types.CallAnalysis, error) {
	p.callID, p.force = callID, force
	if p.err != nil {
		return types.CallAnalysis{CallID: callID, State: types.StateFailed}, p.err
	}
	return types.CallAnalysis{CallID: callID, State: types.StatePersisted}, nil
}

func newServer(schedErr error, proc *stubProcessor) http.Handler {
	d := ingestion.NewDeduplicator(ingestion.NewMemoryLedger(), stubScheduler{err: schedErr}, nil, nil)
	return NewServer(d, proc, 0, nil).Routes()
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestCallCompleted(t *testing.T) {
	h := newServer(nil, &stubProcessor{})

	rec := post(h, "/webhooks/call-completed", `{"event_id":"e1","call_id":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ack types.IngestionAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, types.AckAccepted, ack.Status)

	rec = post(h, "/webhooks/call-completed", `{"event_id":"e1","call_id":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, types.AckDuplicate, ack.Status)
}

func TestCallCompleted_BadRequests(t *testing.T) {
	h := newServer(nil, &stubProcessor{})
	for _, body := range []string{`{"event_id":"e1"}`, `not json`} {
		rec := post(h, "/webhooks/call-completed", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCallCompleted_OverloadIsRetryable(t *testing.T) {
	h := newServer(workerpool.ErrPoolOverload, &stubProcessor{})
	rec := post(h, "/webhooks/call-completed", `{"event_id":"e1","call_id":"c1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var ie types.IngestionError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ie))
	assert.True(t, ie.Retryable)
}

func TestAnalyze(t *testing.T) {
	proc := &stubProcessor{}
	h := newServer(nil, proc)

	rec := post(h, "/calls/c-77/analyze?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c-77", proc.callID)
	assert.True(t, proc.force)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/c-77/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAnalyze_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", processor.ErrTranscriptUnavailable, transcription.ErrCallNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: timeout", processor.ErrTranscriptUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w %q", rubric.ErrNoRubric, "sdr"), http.StatusUnprocessableEntity},
		{&chunker.ChunkingError{CallID: "c", TurnIndex: -1, Err: chunker.ErrEmptyTranscript}, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := post(newServer(nil, &stubProcessor{err: tt.err}), "/calls/c/analyze", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newServer(nil, &stubProcessor{})
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
