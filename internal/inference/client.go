// Package inference talks to a hosted model inference API (the Hugging Face
// wire format) and adapts its text-classification and zero-shot endpoints to
// the predictor interfaces.
package inference

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
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseURL       = "https://api-inference.huggingface.co"
	DefaultMaxRetries    = 2
	DefaultMaxInputChars = 8000
)

// ErrInputTooLong is returned for inputs longer than the configured limit.
// The request is never sent.
var ErrInputTooLong = errors.New("input exceeds max input length")

// StatusError is a non-200 response from the inference API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference api error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated. 503 is
// returned while a model is loading.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Options struct {
	Token         string
	MaxRetries    int
	MaxInputChars int
	Backoff       time.Duration // delay before the first retry, doubled on each further retry
	HTTPClient    *http.Client
}

type Client struct {
	baseURL       string
	token         string
	maxRetries    int
	maxInputChars int
	backoff       time.Duration
	client        *http.Client
	logger        *slog.Logger
}

func NewClient(baseURL string, opts Options, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         opts.Token,
		maxRetries:    opts.MaxRetries,
		maxInputChars: opts.MaxInputChars,
		backoff:       opts.Backoff,
		client:        opts.HTTPClient,
		logger:        logger,
	}
}

// Label is one label/score pair of a text-classification response.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ZeroShotResult is the response of a zero-shot classification, labels in
// descending score order.
type ZeroShotResult struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}

type classificationRequest struct {
	Inputs string `json:"inputs"`
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
}

// TextClassification scores text with a classification model and returns
// every label the model emits.
func (c *Client) TextClassification(ctx context.Context, model, text string) ([]Label, error) {
	if err := c.checkInput(text); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, model, classificationRequest{Inputs: text})
	if err != nil {
		return nil, err
	}

	// Single inputs come back either nested one level or flat.
	var nested [][]Label
	if err := json.Unmarshal(body, &nested); err == nil {
		if len(nested) == 0 {
			return nil, fmt.Errorf("empty classification response")
		}
		return nested[0], nil
	}
	var flat []Label
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("unmarshal classification response: %w", err)
	}
	return flat, nil
}

// ZeroShot ranks text against the candidate labels.
func (c *Client) ZeroShot(ctx context.Context, model, text string, labels []string) (ZeroShotResult, error) {
	if err := c.checkInput(text); err != nil {
		return ZeroShotResult{}, err
	}

	body, err := c.post(ctx, model, zeroShotRequest{
		Inputs:     text,
		Parameters: zeroShotParameters{CandidateLabels: labels},
	})
	if err != nil {
		return ZeroShotResult{}, err
	}

	var result ZeroShotResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ZeroShotResult{}, fmt.Errorf("unmarshal zero-shot response: %w", err)
	}
	if len(result.Labels) != len(result.Scores) {
		return ZeroShotResult{}, fmt.Errorf("zero-shot response has %d labels and %d scores", len(result.Labels), len(result.Scores))
	}
	return result, nil
}

func (c *Client) checkInput(text string) error {
	if n := utf8.RuneCountInString(text); n > c.maxInputChars {
		return fmt.Errorf("%w: %d > %d characters", ErrInputTooLong, n, c.maxInputChars)
	}
	return nil
}

func (c *Client) post(ctx context.Context, model string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/models/" + model
	var body []byte
	op := func() error {
		b, err := c.do(ctx, url, reqBody)
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying inference request", "model", model, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, c.retryPolicy(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// retryPolicy waits Backoff before the first retry and doubles the wait for
// each further one, up to MaxRetries retries.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *Client) do(ctx context.Context, url string, reqBody []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// retryable reports whether err is worth another attempt: transport failures,
// throttling and server errors are, caller cancellation and 4xx are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
