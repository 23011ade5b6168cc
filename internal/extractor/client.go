package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"call-coach-go/internal/logger"
)

// Request is one prompt for the reasoning service. DimensionID and ChunkText
// are not sent; they let deterministic clients answer without parsing prompts.
type Request struct {
	Model       string
	System      string
	Prompt      string
	DimensionID string
	ChunkText   string
}

type Completion struct {
	Content      string
	FinishReason string
}

// Client performs exactly one call to the reasoning service. Errors are
// *TransientError, *RejectedError or a context error.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// GatewayClient talks to an OpenAI-compatible chat completions endpoint.
type GatewayClient struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     *logger.Logger
}

func NewGatewayClient(url, apiKey string, timeout time.Duration, log *logger.Logger) *GatewayClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GatewayClient{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
		log:     log.Component("llm-gateway"),
	}
}

func (c *GatewayClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.url == "" || c.apiKey == "" {
		return Completion{}, &RejectedError{Message: "llm gateway not configured"}
	}

	messages := []map[string]string{}
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	data, err := json.Marshal(map[string]any{
		"model":           req.Model,
		"messages":        messages,
		"temperature":     0.0,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return Completion{}, &RejectedError{Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.WithError(err).Warn("llm request failed")
		return Completion{}, &TransientError{Reason: "network", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &TransientError{Reason: "read body", StatusCode: resp.StatusCode, Err: err}
	}
	c.log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, classifyStatus(resp, body)
	}

	content, finish := extractContentFromChoices(body)
	if isContentPolicy(finish) {
		return Completion{}, &RejectedError{StatusCode: resp.StatusCode, Code: finish, Message: "completion withheld by content filter"}
	}
	if content == "" {
		// some gateways return the object directly
		content = extractJSON(string(body))
	}
	return Completion{Content: content, FinishReason: finish}, nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	code, msg := extractAPIError(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if isContentPolicy(code) {
		return &RejectedError{StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &TransientError{
			Reason:     fmt.Sprintf("http %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        errors.New(msg),
		}
	default:
		return &RejectedError{StatusCode: resp.StatusCode, Code: code, Message: msg}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// extractContentFromChoices reads openai-style choices[0].message.content and
// choices[0].finish_reason.
func extractContentFromChoices(body []byte) (content, finishReason string) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return "", ""
	}
	finishReason, _ = c0["finish_reason"].(string)
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return "", finishReason
	}
	content, _ = msg["content"].(string)
	return content, finishReason
}

func extractAPIError(body []byte) (code, message string) {
	var payload struct {
		Error struct {
			Code    any    `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	switch v := payload.Error.Code.(type) {
	case string:
		code = v
	case float64:
		code = strconv.Itoa(int(v))
	}
	if code == "" {
		code = payload.Error.Type
	}
	return code, payload.Error.Message
}
