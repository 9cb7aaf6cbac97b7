// Package gemini is a one-shot HTTP client for Google's Gemini
// generateContent API. It has no retry policy of its own — package planner
// owns the single bounded retry for planning calls — and classifies every
// failure into the error taxonomy the rest of the system switches on.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftkit/taskgraph/core"
)

// Kind is the closed set of error categories a Client call can fail with.
type Kind string

const (
	KindMissingKey   Kind = "MissingKey"
	KindTransport    Kind = "Transport"
	KindRateLimited  Kind = "RateLimited"
	KindBlocked      Kind = "Blocked"
	KindNoCandidates Kind = "NoCandidates"
	KindParseError   Kind = "ParseError"
	KindEmptyResponse Kind = "EmptyResponse"
)

// Error is the typed error every Client method returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gemini: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Client talks to the Gemini generateContent endpoint over a single shared
// *http.Client connection pool, reused across every call the process makes.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	logger     core.Logger
	tracer     core.Telemetry
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTelemetry overrides the default no-op tracer.
func WithTelemetry(t core.Telemetry) Option {
	return func(c *Client) { c.tracer = t }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l core.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a Client. apiKey may be empty — it is validated lazily
// on the first call so construction never fails for a missing key.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		logger:     &core.NoOpLogger{},
		tracer:     &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is the input to GenerateContent.
type Request struct {
	Prompt    string
	Model     string // overrides Client.model when non-empty
	ForceJSON bool
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// GenerateContent sends prompt to Gemini and returns the first candidate's
// text, or a typed *Error describing why it could not.
func (c *Client) GenerateContent(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, "gemini.GenerateContent")
	defer span.End()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	span.SetAttribute("gemini.model", model)

	if c.apiKey == "" {
		err := newError(KindMissingKey, "GEMINI_API_KEY is not configured", nil)
		span.RecordError(err)
		return "", err
	}

	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
	}
	if req.ForceJSON {
		body.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		wrapped := newError(KindParseError, "failed to marshal request", err)
		span.RecordError(wrapped)
		return "", wrapped
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		wrapped := newError(KindTransport, "failed to build request", err)
		span.RecordError(wrapped)
		return "", wrapped
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.DebugWithContext(ctx, "calling gemini", map[string]interface{}{"model": model})

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		wrapped := newError(KindTransport, "request failed", err)
		span.RecordError(wrapped)
		return "", wrapped
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := newError(KindTransport, "failed to read response body", err)
		span.RecordError(wrapped)
		return "", wrapped
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wrapped := newError(KindRateLimited, "gemini returned 429", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
		span.RecordError(wrapped)
		return "", wrapped
	}
	if resp.StatusCode != http.StatusOK {
		wrapped := newError(KindTransport, fmt.Sprintf("gemini returned status %d", resp.StatusCode), fmt.Errorf("%s", respBody))
		span.RecordError(wrapped)
		return "", wrapped
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		wrapped := newError(KindParseError, "failed to parse gemini response", err)
		span.RecordError(wrapped)
		return "", wrapped
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		wrapped := newError(KindBlocked, fmt.Sprintf("blocked: %s", parsed.PromptFeedback.BlockReason), nil)
		span.RecordError(wrapped)
		return "", wrapped
	}

	if len(parsed.Candidates) == 0 {
		wrapped := newError(KindNoCandidates, "gemini returned no candidates", nil)
		span.RecordError(wrapped)
		return "", wrapped
	}

	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 || strings.TrimSpace(parts[0].Text) == "" {
		wrapped := newError(KindEmptyResponse, "gemini returned an empty candidate", nil)
		span.RecordError(wrapped)
		return "", wrapped
	}

	span.SetAttribute("gemini.response_chars", len(parts[0].Text))
	return parts[0].Text, nil
}
