// Package api exposes the webhook, operator and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"call-coach-go/internal/chunker"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/processor"
	"call-coach-go/internal/rubric"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/types"
)

const maxBodyBytes = 1 << 20

type Ingestor interface {
	Handle(ctx context.Context, event types.IngestionEvent) (types.IngestionAck, error)
}

type CallProcessor interface {
	ProcessCall(ctx context.Context, callID string, force bool) (types.CallAnalysis, error)
}

type Server struct {
	ingest         Ingestor
	calls          CallProcessor
	metrics        http.Handler
	log            *logger.Logger
	analyzeTimeout time.Duration
}

// NewServer builds the handlers. analyzeTimeout bounds the synchronous
// operator re-run; zero leaves it to the request context.
func NewServer(ingest Ingestor, calls CallProcessor, analyzeTimeout time.Duration, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		ingest:         ingest,
		calls:          calls,
		metrics:        promhttp.Handler(),
		log:            log,
		analyzeTimeout: analyzeTimeout,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("POST /webhooks/call-completed", s.callCompleted)
	mux.HandleFunc("POST /calls/{call_id}/analyze", s.analyze)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) callCompleted(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "call-completed")

	var event types.IngestionEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&event); err != nil {
		reqLog.WithError(err).Warn("malformed webhook body")
		writeJSON(w, http.StatusBadRequest, &types.IngestionError{Reason: "malformed JSON body"})
		return
	}

	ack, err := s.ingest.Handle(r.Context(), event)
	if err != nil {
		var ie *types.IngestionError
		if !errors.As(err, &ie) {
			ie = &types.IngestionError{EventID: event.EventID, Reason: err.Error(), Retryable: true}
		}
		status := http.StatusBadRequest
		if ie.Retryable {
			status = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", "5")
		}
		reqLog.WithError(err).WithField("status", status).Warn("webhook rejected")
		writeJSON(w, status, ie)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	reqLog := s.log.WithRequest(r).WithField("handler", "analyze").WithField("call_id", callID).WithField("force", force)

	ctx := r.Context()
	if s.analyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.analyzeTimeout)
		defer cancel()
	}

	start := time.Now()
	analysis, err := s.calls.ProcessCall(ctx, callID, force)
	reqLog = reqLog.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		status := statusFor(err)
		reqLog.WithError(err).WithField("status", status).Warn("analysis failed")
		writeJSON(w, status, map[string]any{"error": err.Error(), "analysis": analysis})
		return
	}
	reqLog.Info("analysis finished")
	writeJSON(w, http.StatusOK, analysis)
}

func statusFor(err error) int {
	var chunkErr *chunker.ChunkingError
	switch {
	case errors.Is(err, transcription.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, rubric.ErrNoRubric), errors.As(err, &chunkErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrTranscriptUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
