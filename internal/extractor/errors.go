package extractor

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDimension is returned when the dimension handed to Analyze is not
// usable. It is never retried.
var ErrInvalidDimension = errors.New("invalid rubric dimension")

// TransientError marks a failure worth retrying: network trouble, timeouts,
// rate limiting, server errors and unparseable output.
type TransientError struct {
	Reason     string
	StatusCode int
	// RetryAfter is the server's hint, zero when none was sent.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a non-retryable answer from the reasoning service, such as
// a 4xx other than 408/429 or a content-policy refusal.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("rejected (%d): %s", e.StatusCode, e.Message)
}

// PermanentAnalysisError is the only error Analyze returns. The orchestrator
// maps it to a degraded chunk rather than a failed call.
type PermanentAnalysisError struct {
	DimensionID string
	ChunkIndex  int
	Reason      string
	Err         error
}

func (e *PermanentAnalysisError) Error() string {
	return fmt.Sprintf("analysis of dimension %q chunk %d failed: %s: %v", e.DimensionID, e.ChunkIndex, e.Reason, e.Err)
}

func (e *PermanentAnalysisError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func isContentPolicy(code string) bool {
	switch code {
	case "content_filter", "content_policy", "content_policy_violation":
		return true
	}
	return false
}

func reasonFor(err error) string {
	var (
		te *TransientError
		re *RejectedError
	)
	switch {
	case errors.As(err, &te):
		return "retries exhausted: " + te.Reason
	case errors.As(err, &re):
		if isContentPolicy(re.Code) {
			return "content policy rejection"
		}
		return "rejected by reasoning service"
	case errors.Is(err, ErrInvalidDimension):
		return "invalid dimension"
	case errors.Is(err, errUnparseable):
		return "unparseable response"
	default:
		return "analysis failed"
	}
}
