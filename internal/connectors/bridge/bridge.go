// Package bridge is the HTTP client for an Ollama-compatible inference server.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	generatePath = "/api/generate"
	tagsPath     = "/api/tags"

	maxBodyBytes = 1 << 20
)

var (
	// ErrMissingResponse means the server answered 2xx without a "response" field.
	ErrMissingResponse = errors.New("inference reply has no response field")
	// ErrMalformedReply means the reply body was not the expected JSON.
	ErrMalformedReply = errors.New("malformed inference reply")
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("inference server returned status %d: %s", e.StatusCode, e.Body)
}

// GenerateRequest is the /api/generate request body.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// GenerateResponse is the subset of the /api/generate reply the relay reads.
// Response is nil when the field is absent.
type GenerateResponse struct {
	Model    string  `json:"model,omitempty"`
	Response *string `json:"response"`
	Done     bool    `json:"done,omitempty"`
}

// Model is one entry of /api/tags.
type Model struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// Bridge sends single, non-streaming generate requests.
type Bridge struct {
	model       string
	generateURL string
	tagsURL     string
	client      *http.Client
}

// NewBridge creates a client for the server at baseURL. Every request is
// bounded by timeout.
func NewBridge(baseURL, model string, timeout time.Duration) (*Bridge, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid inference base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("inference base URL %q must be absolute", baseURL)
	}
	return &Bridge{
		model:       model,
		generateURL: base.JoinPath(generatePath).String(),
		tagsURL:     base.JoinPath(tagsPath).String(),
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Model is the model name sent with every request.
func (b *Bridge) Model() string { return b.model }

// Generate sends prompt and returns the reply text exactly as received.
func (b *Bridge) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{Model: b.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.generateURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := b.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp *GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: body is not a JSON object", ErrMalformedReply)
	}
	if resp.Response == nil {
		return "", ErrMissingResponse
	}
	return *resp.Response, nil
}

// ListModels returns the models installed on the server.
func (b *Bridge) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.tagsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := b.do(httpReq)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return tags.Models, nil
}

// HealthCheck verifies the inference server is reachable.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if _, err := b.ListModels(ctx); err != nil {
		return fmt.Errorf("inference server is not accessible: %w", err)
	}
	return nil
}

func (b *Bridge) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
