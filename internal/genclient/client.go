// Package genclient talks to the external generation service. The wire
// contract is submit-then-poll: a submit returns a task ID, the task is
// polled until it reports done or failed.
//
// Transient failures (network errors, 5xx, throttling, poll timeouts)
// are retried with capped, jittered exponential backoff. Permanent
// failures (auth, malformed request) surface immediately. Cancelling
// the context abandons the call cleanly — the caller persists nothing.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for caller-side classification.
var (
	// ErrPermanent marks failures that retrying cannot fix: bad
	// credentials, malformed requests, a task the service rejected.
	ErrPermanent = errors.New("permanent generation failure")

	// ErrTimeout marks an exhausted poll budget. It is transient from
	// the caller's perspective: a later attempt may succeed.
	ErrTimeout = errors.New("generation timed out")

	// ErrRetriesExceeded marks a transient failure that survived every
	// allowed attempt.
	ErrRetriesExceeded = errors.New("max retries exceeded")
)

// randFloat is a package-level var to allow test injection of jitter.
var randFloat = rand.Float64

// Config holds client tuning.
type Config struct {
	BaseURL string
	APIKey  string

	// MaxAttempts bounds the submit/poll retry loop for transient
	// failures.
	MaxAttempts int

	// InitialBackoff doubles per attempt up to MaxBackoff, then gets
	// jittered into [0.5x, 1.0x].
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PollInterval is the delay between task status polls; PollBudget
	// caps the total wall-clock wait for one task.
	PollInterval time.Duration
	PollBudget   time.Duration

	// RequestTimeout bounds each individual HTTP request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		PollInterval:   2 * time.Second,
		PollBudget:     300 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Request is one generation call.
type Request struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	Effort  string `json:"effort,omitempty"`
}

// Client is the generation service client. Safe for concurrent use.
type Client struct {
	cfg   Config
	httpc *http.Client
}

// New creates a client. A zero MaxAttempts falls back to the default.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = def.PollBudget
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// --- Wire types ---

type submitRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	Context   string `json:"context,omitempty"`
	Effort    string `json:"effort,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	Status     string `json:"status"` // pending | running | done | failed
	ResultText string `json:"result_text,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// callError carries HTTP-level failure detail plus a transience flag and
// an optional server-provided retry hint.
type callError struct {
	status     int
	msg        string
	transient  bool
	retryAfter time.Duration
}

func (e *callError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("generation service: %s (status %d)", e.msg, e.status)
	}
	return fmt.Sprintf("generation service: %s", e.msg)
}

func (e *callError) Unwrap() error {
	if e.transient {
		return nil
	}
	return ErrPermanent
}

// --- Generate ---

// Generate runs the full submit/poll cycle and returns the result text.
// Transient failures restart the whole cycle (a fresh submit) up to
// MaxAttempts times; permanent failures return immediately wrapped in
// ErrPermanent. A cancelled context returns ctx.Err().
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return "", err
			}
		}

		result, err := c.generateOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrPermanent) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w (%d attempts): %v", ErrRetriesExceeded, c.cfg.MaxAttempts, lastErr)
}

// generateOnce performs one submit and polls the task to completion.
func (c *Client) generateOnce(ctx context.Context, req Request) (string, error) {
	taskID, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	return c.poll(ctx, taskID)
}

func (c *Client) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(submitRequest{
		RequestID: uuid.NewString(),
		Prompt:    req.Prompt,
		Context:   req.Context,
		Effort:    req.Effort,
	})
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/generations", body, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", &callError{msg: "submit returned no task_id", transient: false}
	}
	return resp.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.cfg.PollBudget)

	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("task %s: %w after %s", taskID, ErrTimeout, c.cfg.PollBudget)
		}

		var task taskResponse
		err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/generations/"+taskID, nil, &task)
		if err != nil {
			return "", err
		}

		switch task.Status {
		case "done":
			return task.ResultText, nil
		case "failed":
			return "", taskFailure(taskID, task.ErrorCode)
		case "pending", "running":
			if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
				return "", err
			}
		default:
			return "", &callError{msg: fmt.Sprintf("task %s: unknown status %q", taskID, task.Status), transient: false}
		}
	}
}

// taskFailure classifies a task-level failure by its error code.
func taskFailure(taskID, code string) error {
	switch code {
	case "rate_limited", "overloaded", "internal", "timeout":
		return &callError{msg: fmt.Sprintf("task %s failed: %s", taskID, code), transient: true}
	default:
		return &callError{msg: fmt.Sprintf("task %s failed: %s", taskID, code), transient: false}
	}
}

// do executes one HTTP request and decodes the JSON response into out.
// Status codes classify the error: 429 and 5xx are transient (429 keeps
// the Retry-After hint), other non-2xx are permanent.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &callError{msg: err.Error(), transient: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &callError{msg: fmt.Sprintf("decoding response: %v", err), transient: true}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &callError{
			status:     resp.StatusCode,
			msg:        "throttled",
			transient:  true,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &callError{status: resp.StatusCode, msg: readErrBody(resp.Body), transient: true}
	default:
		// 400, 401, 403 and friends: retrying won't help.
		return &callError{status: resp.StatusCode, msg: readErrBody(resp.Body), transient: false}
	}
}

func readErrBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	if len(b) == 0 {
		return "request failed"
	}
	return string(bytes.TrimSpace(b))
}

// parseRetryAfter accepts the delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff computes the delay before the given (1-based) retry attempt:
// doubling from InitialBackoff, capped at MaxBackoff, jittered into
// [0.5x, 1.0x]. A server Retry-After hint on the last error takes
// precedence over the schedule.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var ce *callError
	if errors.As(lastErr, &ce) && ce.retryAfter > 0 {
		return ce.retryAfter
	}

	delay := c.cfg.InitialBackoff << (attempt - 1)
	if delay > c.cfg.MaxBackoff || delay <= 0 {
		delay = c.cfg.MaxBackoff
	}
	jittered := 0.5 + 0.5*randFloat()
	return time.Duration(float64(delay) * jittered)
}

// sleep waits for d or until the context is cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
