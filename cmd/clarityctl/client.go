package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/pkg/fn"
)

const maxErrorBody = 512

// apiError is a non-2xx answer from the API.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: http %d", e.StatusCode)
	}
	return fmt.Sprintf("api: http %d: %s", e.StatusCode, e.Message)
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// retryable keeps transport errors and 502-504 in play; everything the
// API answers deliberately is final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.StatusCode >= http.StatusBadGateway && ae.StatusCode <= http.StatusGatewayTimeout
	}
	return true
}

type apiClient struct {
	base  string
	http  *http.Client
	retry fn.RetryOpts
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: timeout},
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 250 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
			Retryable:   retryable,
		},
	}
}

// do sends one request and decodes a 2xx body into out. For an error
// status the body is decoded into out as well when it is JSON, so callers
// can still read a snapshot attached to a 500.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ae := &apiError{StatusCode: resp.StatusCode}
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &msg) == nil && msg.Error != "" {
			ae.Message = msg.Error
		} else {
			ae.Message = truncate(string(bytes.TrimSpace(raw)), maxErrorBody)
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// get retries idempotent reads.
func get[T any](ctx context.Context, c *apiClient, path string) (T, error) {
	return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[T] {
		var out T
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		return fn.FromPair(out, err)
	}).Unwrap()
}

// initiated is the 202 body of POST /search.
type initiated struct {
	SessionID string                                    `json:"session_id"`
	Query     string                                    `json:"query"`
	State     domain.SessionState                       `json:"state"`
	Tasks     map[domain.SourceType]search.SourceStatus `json:"tasks"`
	AutoSave  bool                                      `json:"auto_save"`
	StatusURL string                                    `json:"status_url"`
	CreatedAt time.Time                                 `json:"created_at"`
}

type brandList struct {
	Brands []store.BrandSummary `json:"brands"`
	Count  int                  `json:"count"`
}

type brandStats struct {
	Brand string           `json:"brand"`
	Stats store.BrandStats `json:"stats"`
}

type brandData struct {
	Brand string                   `json:"brand"`
	Data  []domain.ReputationEntry `json:"data"`
	Count int                      `json:"count"`
}

// Initiate is not retried: a lost response would start a second session.
func (c *apiClient) Initiate(ctx context.Context, req search.InitiateRequest) (initiated, error) {
	var out initiated
	err := c.do(ctx, http.MethodPost, "/search", req, &out)
	return out, err
}

// Status returns the snapshot even when the API reports a persistence
// failure alongside it.
func (c *apiClient) Status(ctx context.Context, id string) (search.Snapshot, error) {
	var snap search.Snapshot
	err := c.do(ctx, http.MethodGet, "/search/"+url.PathEscape(id), nil, &snap)
	return snap, err
}

func (c *apiClient) Brands(ctx context.Context) ([]store.BrandSummary, error) {
	out, err := get[brandList](ctx, c, "/api/brands")
	return out.Brands, err
}

func (c *apiClient) Stats(ctx context.Context, brand string) (store.BrandStats, error) {
	out, err := get[brandStats](ctx, c, "/api/brands/"+url.PathEscape(brand)+"/stats")
	return out.Stats, err
}

func (c *apiClient) Latest(ctx context.Context, brand string, limit, offset int) ([]domain.ReputationEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	out, err := get[brandData](ctx, c, "/api/brands/"+url.PathEscape(brand)+"/latest?"+q.Encode())
	return out.Data, err
}
