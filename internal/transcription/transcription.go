// Package transcription retrieves call metadata and speaker-turn transcripts
// from the call-recording platform.
package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/types"
)

var ErrCallNotFound = errors.New("call not found on recording platform")

// Document is the platform's transcript payload.
type Document struct {
	Call  types.CallMetadata `json:"call"`
	Turns []types.Turn       `json:"turns"`
}

func (d Document) Transcript() types.RawTranscript {
	return types.RawTranscript{CallID: d.Call.CallID, Turns: d.Turns}
}

// Source yields the transcript for a call id.
type Source interface {
	Fetch(ctx context.Context, callID string) (Document, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
	log        *logger.Logger
}

var _ Source = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: 20 * time.Second,
		log:        log.Component("transcription"),
	}
}

// Fetch calls GET {base}/calls/{id}/transcript.
func (c *Client) Fetch(ctx context.Context, callID string) (Document, error) {
	if c.baseURL == "" {
		return Document{}, errors.New("TRANSCRIPT_API_URL not set")
	}
	endpoint := c.baseURL + "/calls/" + url.PathEscape(callID) + "/transcript"

	var doc Document
	if err := c.doJSON(ctx, endpoint, &doc); err != nil {
		return Document{}, fmt.Errorf("fetch transcript for %s: %w", callID, err)
	}
	if doc.Call.CallID == "" {
		doc.Call.CallID = callID
	}
	c.log.WithField("call_id", callID).WithField("turns", len(doc.Turns)).Info("transcript fetched")
	return doc, nil
}

// doJSON GETs endpoint and decodes it, retrying network errors and 5xx.
func (c *Client) doJSON(ctx context.Context, endpoint string, target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.WithError(err).Warn("transcript request failed")
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrCallNotFound)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body))
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body)))
		case len(body) == 0:
			return fmt.Errorf("empty body")
		}
		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %w", err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// LoadFile reads a Document from a JSON file in the platform's format.
func LoadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read transcript file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode transcript file %s: %w", path, err)
	}
	return doc, nil
}

// MockSource serves a canned discovery call for every id. Enabled with
// USE_MOCK_TRANSCRIPT=true.
type MockSource struct{}

var _ Source = MockSource{}

func (MockSource) Fetch(_ context.Context, callID string) (Document, error) {
	lines := []struct{ speaker, text string }{
		{"rep", "Thanks for making time today. What prompted you to take this call?"},
		{"buyer", "Our month-end close takes nine days and the CFO wants it under five."},
		{"rep", "What happens today when a reconciliation breaks?"},
		{"buyer", "Someone exports to spreadsheets and we lose a day chasing it."},
		{"rep", "If you got to five days, what would that unlock for the team?"},
		{"buyer", "Honestly, we could finally start on forecasting."},
		{"rep", "Pricing is per entity. Does that work for your structure?"},
		{"buyer", "It's more than we budgeted, I'd need to see the ROI."},
		{"rep", "Let's book thirty minutes with your controller next Tuesday to build that case."},
	}
	doc := Document{Call: types.CallMetadata{
		CallID:    callID,
		StaffID:   "rep-001",
		StaffRole: "account_executive",
		Title:     "Discovery call (mock)",
		StartedAt: time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC),
	}}
	var at int64
	for _, l := range lines {
		dur := int64(len(strings.Fields(l.text))) * 400
		doc.Turns = append(doc.Turns, types.Turn{SpeakerID: l.speaker, StartMs: at, EndMs: at + dur, Text: l.text})
		at += dur + 600
	}
	doc.Call.DurationMs = at
	return doc, nil
}
