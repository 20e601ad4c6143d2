package browsercash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clarityhq/clarity/pkg/fn"
)

func fastRetry() Option {
	return WithRetry(fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, Retryable: IsTemporary})
}

func TestCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/task/create" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body createRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Agent != "gemini" || body.Mode != "text" || body.StepLimit != 15 || body.Prompt != "find reviews" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"taskId":"t-1"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL + "/"})
	id, err := c.CreateTask(context.Background(), "find reviews", 15)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "t-1" {
		t.Fatalf("expected t-1, got %s", id)
	}
}

func TestCreateTaskRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"taskId":"t-2"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, fastRetry())
	id, err := c.CreateTask(context.Background(), "p", 0)
	if err != nil || id != "t-2" {
		t.Fatalf("expected t-2 after retries, got %q %v", id, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCreateTaskDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, fastRetry())
	_, err := c.CreateTask(context.Background(), "p", 0)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestGetTaskAnswers(t *testing.T) {
	bodies := map[string]string{
		"str":    `{"state":"completed","result":{"answer":"  Great shoes  "}}`,
		"obj":    `{"state":"completed","result":{"answer":{"reviews":[1, 2]}}}`,
		"null":   `{"state":"completed","result":{"answer":null}}`,
		"none":   `{"state":"active"}`,
		"errobj": `{"state":"failed","error":{"message":"step limit reached"}}`,
		"errstr": `{"state":"failed","error":"timeout"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bodies[r.URL.Path[len("/v1/task/"):]]))
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})
	ctx := context.Background()

	check := func(id, wantAnswer, wantErr string) {
		t.Helper()
		task, err := c.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if task.AnswerText() != wantAnswer {
			t.Fatalf("%s: expected answer %q, got %q", id, wantAnswer, task.AnswerText())
		}
		if task.ErrorText() != wantErr {
			t.Fatalf("%s: expected error %q, got %q", id, wantErr, task.ErrorText())
		}
	}
	check("str", "Great shoes", "")
	check("obj", `{"reviews":[1,2]}`, "")
	check("null", "", "")
	check("none", "", "")
	check("errobj", "", "step limit reached")
	check("errstr", "", "timeout")
}

func TestGetTaskDecodeErrorIsNotTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})
	_, err := c.GetTask(context.Background(), "x")
	if err == nil || IsTemporary(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, WithRetry(fn.RetryOpts{MaxAttempts: 1}))
	if _, err := c.CreateTask(context.Background(), "p", 0); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestArgumentErrorsAreNotTemporary(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	noKey := NewClient(Config{BaseURL: srv.URL}, fastRetry())
	_, createErr := noKey.CreateTask(context.Background(), "p", 0)
	_, getErr := noKey.GetTask(context.Background(), "x")
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, fastRetry())
	_, promptErr := c.CreateTask(context.Background(), "  ", 0)
	_, idErr := c.GetTask(context.Background(), "")

	for _, err := range []error{createErr, getErr, promptErr, idErr} {
		if err == nil || IsTemporary(err) {
			t.Fatalf("expected a permanent error, got %v", err)
		}
	}
	if !errors.Is(idErr, ErrMissingTaskID) || !errors.Is(promptErr, ErrMissingPrompt) {
		t.Fatalf("unexpected errors %v / %v", idErr, promptErr)
	}
	if calls.Load() != 0 {
		t.Fatalf("argument errors must not reach the server, got %d calls", calls.Load())
	}
}
