package types

import "time"

// --------------------------------------------
// Analysis output
// --------------------------------------------

type Evidence struct {
	Quote    string `json:"quote"`
	OffsetMs int64  `json:"offset_ms"`
}

// DimensionResult is produced per chunk by the analyzer or per call by the combiner.
// Score is nil only when no chunk produced a usable result.
type DimensionResult struct {
	DimensionID  string     `json:"dimension_id"`
	Score        *float64   `json:"score"`
	Evidence     []Evidence `json:"evidence"`
	Strengths    []string   `json:"strengths"`
	Improvements []string   `json:"improvements"`
	Degraded     bool       `json:"degraded"`
	CacheHit     bool       `json:"cache_hit"`
	FailedChunks int        `json:"failed_chunks,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type RunState string

const (
	StatePending   RunState = "PENDING"
	StateChunking  RunState = "CHUNKING"
	StateFanout    RunState = "DIMENSION_FANOUT"
	StateCombining RunState = "COMBINING"
	StatePersisted RunState = "PERSISTED"
	StateFailed    RunState = "FAILED"
)

type CallAnalysis struct {
	RunID              string                     `json:"run_id"`
	CallID             string                     `json:"call_id"`
	StaffID            string                     `json:"staff_id,omitempty"`
	RubricVersion      string                     `json:"rubric_version"`
	State              RunState                   `json:"state"`
	OverallScore       *float64                   `json:"overall_score"`
	Dimensions         map[string]DimensionResult `json:"dimensions"`
	CacheHitDimensions []string                   `json:"cache_hit_dimensions"`
	ChunkCount         int                        `json:"chunk_count"`
	StartedAt          time.Time                  `json:"started_at"`
	CompletedAt        time.Time                  `json:"completed_at"`
}

// --------------------------------------------
// Cache entry persisted shape
// --------------------------------------------

type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Result      DimensionResult `json:"result"`
	ComputedAt  time.Time       `json:"computed_at"`
	TTLSeconds  int64           `json:"ttl_seconds"`
	HitCount    int64           `json:"hit_count"`
}

// --------------------------------------------
// Ingestion boundary
// --------------------------------------------

type IngestionEvent struct {
	EventID    string    `json:"event_id"`
	CallID     string    `json:"call_id"`
	ReceivedAt time.Time `json:"received_at"`
}

type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"
	AckDuplicate AckStatus = "duplicate"
)

type IngestionAck struct {
	EventID    string    `json:"event_id"`
	CallID     string    `json:"call_id"`
	Status     AckStatus `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// IngestionError is returned to the webhook boundary. Retryable errors map to a
// status that makes the upstream platform redeliver.
type IngestionError struct {
	EventID   string `json:"event_id,omitempty"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return "ingestion: " + e.Reason + ": " + e.Err.Error()
	}
	return "ingestion: " + e.Reason
}

func (e *IngestionError) Unwrap() error { return e.Err }
