// Package browsercash is a client for the Browser.cash agent task API.
//
// A task is submitted with a natural-language prompt and runs remotely in an
// automated browser; the caller polls it by id until the agent reports a
// final state.
package browsercash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clarityhq/clarity/pkg/fn"
	"golang.org/x/time/rate"
)

const (
	defaultAgent     = "gemini"
	defaultMode      = "text"
	defaultStepLimit = 10
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 512
)

// Config captures the settings required to talk to the agent API.
type Config struct {
	APIKey         string
	BaseURL        string
	Agent          string
	Mode           string
	StepLimit      int
	TimeoutSeconds int
	// RequestsPerSecond bounds outgoing calls. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client wraps the agent task endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      fn.RetryOpts
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry overrides the retry policy used for task submission.
func WithRetry(opts fn.RetryOpts) Option {
	return func(c *Client) { c.retry = opts }
}

// NewClient constructs a client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Agent == "" {
		cfg.Agent = defaultAgent
	}
	if cfg.Mode == "" {
		cfg.Mode = defaultMode
	}
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = defaultStepLimit
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
			Retryable:   IsTemporary,
		},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Argument errors are returned before any request is made.
var (
	ErrMissingAPIKey = errors.New("browsercash: api key required")
	ErrMissingPrompt = errors.New("browsercash: prompt required")
	ErrMissingTaskID = errors.New("browsercash: task id required")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("browsercash: http %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err is a retryable status or a transport error.
// Argument and configuration errors never are.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrMissingPrompt) || errors.Is(err, ErrMissingTaskID) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *DecodeError
	return !errors.As(err, &de)
}

// DecodeError means the server answered but the body was not understood.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return "browsercash: decode response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

type createRequest struct {
	Agent     string `json:"agent"`
	Prompt    string `json:"prompt"`
	Mode      string `json:"mode"`
	StepLimit int    `json:"stepLimit"`
}

type createResponse struct {
	TaskID string `json:"taskId"`
}

// Task is the decoded body of GET /v1/task/{id}.
type Task struct {
	TaskID string          `json:"taskId"`
	State  string          `json:"state"`
	Result *TaskResult     `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// TaskResult holds the agent's answer.
type TaskResult struct {
	Answer json.RawMessage `json:"answer"`
}

// AnswerText returns the answer as text. String answers are unquoted,
// structured answers are returned as compact JSON, null yields "".
func (t Task) AnswerText() string {
	if t.Result == nil {
		return ""
	}
	return rawText(t.Result.Answer)
}

// ErrorText returns the provider's error message, if any.
func (t Task) ErrorText() string {
	if len(t.Error) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(t.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return rawText(t.Error)
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	out := buf.String()
	if out == "{}" || out == "[]" {
		return ""
	}
	return out
}

// CreateTask submits prompt and returns the remote task id. A zero stepLimit
// uses the configured default.
func (c *Client) CreateTask(ctx context.Context, prompt string, stepLimit int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrMissingPrompt
	}
	if c.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	if stepLimit <= 0 {
		stepLimit = c.cfg.StepLimit
	}
	body := createRequest{Agent: c.cfg.Agent, Prompt: prompt, Mode: c.cfg.Mode, StepLimit: stepLimit}

	r := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[string] {
		var out createResponse
		if err := c.do(ctx, http.MethodPost, "/v1/task/create", body, &out); err != nil {
			return fn.Err[string](err)
		}
		if out.TaskID == "" {
			return fn.Err[string](&DecodeError{Err: errors.New("missing taskId")})
		}
		return fn.Ok(out.TaskID)
	})
	id, err := r.Unwrap()
	if err != nil {
		return "", fmt.Errorf("browsercash: create task: %w", err)
	}
	return id, nil
}

// GetTask fetches the current state of a task. It is not retried; the
// caller polls again later.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	if strings.TrimSpace(taskID) == "" {
		return t, ErrMissingTaskID
	}
	if c.cfg.APIKey == "" {
		return t, ErrMissingAPIKey
	}
	if err := c.do(ctx, http.MethodGet, "/v1/task/"+taskID, nil, &t); err != nil {
		return Task{}, fmt.Errorf("browsercash: get task %s: %w", taskID, err)
	}
	return t, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var reader io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
