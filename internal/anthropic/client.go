// Package anthropic is a small client for the Anthropic Messages API. sift
// uses it to turn a scored corpus into a narrative report.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultMaxRetries = 2
	apiVersion        = "2023-06-01"
	messagesPath      = "/v1/messages"
)

// ErrTruncated is returned when the model stopped at max_tokens. The partial
// text is discarded.
var ErrTruncated = errors.New("completion truncated at max_tokens")

// APIError is a non-200 response from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("anthropic api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("anthropic api error %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

// Retryable reports whether the request may succeed when repeated. 529 is
// returned while the API is overloaded.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Options struct {
	BaseURL    string
	MaxRetries int
	Backoff    time.Duration // delay before the first retry, doubled on each further retry
	HTTPClient *http.Client
}

// Usage totals what the client has spent since it was created.
type Usage struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type Client struct {
	apiKey     string
	model      string
	url        string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	usage Usage
}

func NewClient(apiKey, model string, opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		url:        strings.TrimRight(opts.BaseURL, "/") + messagesPath,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		client:     opts.HTTPClient,
		logger:     logger,
	}
}

// Model returns the model the client sends requests to.
func (c *Client) Model() string { return c.model }

// Usage returns the running totals.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one Messages request and returns the text of every text
// block in the reply, joined. Throttling and server errors are retried.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var resp response
	op := func() error {
		r, err := c.send(ctx, body)
		if err != nil {
			var apiErr *APIError
			if ctx.Err() != nil || (errors.As(err, &apiErr) && !apiErr.Retryable()) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying anthropic request", "model", c.model, "wait", wait, "error", err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoff
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx), notify); err != nil {
		return "", err
	}

	c.record(resp)

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if resp.StopReason == "max_tokens" {
		return "", fmt.Errorf("%w (%d output tokens)", ErrTruncated, resp.Usage.OutputTokens)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response content")
	}
	return text.String(), nil
}

func (c *Client) send(ctx context.Context, body []byte) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			apiErr.Type = errResp.Error.Type
			apiErr.Message = errResp.Error.Message
		}
		return response{}, apiErr
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return out, nil
}

func (c *Client) record(resp response) {
	c.mu.Lock()
	c.usage.Requests++
	c.usage.InputTokens += int64(resp.Usage.InputTokens)
	c.usage.OutputTokens += int64(resp.Usage.OutputTokens)
	c.mu.Unlock()

	c.logger.Info("completion",
		"model", c.model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
}
