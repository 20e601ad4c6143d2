package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/metrics"
	"github.com/clarityhq/clarity/pkg/resilience"
)

type fakeProvider struct {
	mu        sync.Mutex
	prompts   []string
	createErr map[string]error // keyed by prompt substring
	statuses  map[string]RemoteStatus
	pollErr   error
}

func (f *fakeProvider) CreateTask(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	for k, err := range f.createErr {
		if strings.Contains(prompt, k) {
			return "", err
		}
	}
	return "h-" + strings.Fields(prompt)[2], nil
}

func (f *fakeProvider) GetTask(_ context.Context, handle string) (RemoteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return RemoteStatus{}, f.pollErr
	}
	return f.statuses[handle], nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   RemoteStatus
		want domain.TaskState
	}{
		{RemoteStatus{State: "completed", Answer: "3 reviews"}, domain.TaskCompleted},
		{RemoteStatus{State: "SUCCEEDED", Answer: "x"}, domain.TaskCompleted},
		{RemoteStatus{State: "completed", Answer: "   "}, domain.TaskActive},
		{RemoteStatus{State: "", Answer: "status: completed"}, domain.TaskActive},
		{RemoteStatus{State: "running", Answer: `{"state":"completed"}`}, domain.TaskActive},
		{RemoteStatus{State: "mystery"}, domain.TaskActive},
		{RemoteStatus{State: "failed", Error: "step limit"}, domain.TaskFailed},
		{RemoteStatus{State: "timed-out"}, domain.TaskFailed},
		{RemoteStatus{State: "cancelled"}, domain.TaskFailed},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		if got.State != tc.want {
			t.Errorf("%+v: expected %s, got %s", tc.in, tc.want, got.State)
		}
	}

	failed := Classify(RemoteStatus{State: "failed"})
	if failed.FailureReason == "" || failed.Payload != "" {
		t.Fatalf("failed result should carry a reason only: %+v", failed)
	}
	done := Classify(RemoteStatus{State: "completed", Answer: "data"})
	if done.Payload != "data" || done.FailureReason != "" {
		t.Fatalf("completed result should carry payload only: %+v", done)
	}
}

func TestCreateTasksIsolatesFailures(t *testing.T) {
	p := &fakeProvider{createErr: map[string]error{"Yelp": errors.New("quota exceeded")}}
	reg := metrics.New()
	c := New(p, Options{Metrics: reg})

	tasks := c.CreateTasks(context.Background(), "Nike", []domain.SourceType{domain.SourceTrustpilot, domain.SourceYelp}, TaskContext{})
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	tp := tasks[domain.SourceTrustpilot]
	if tp.State != domain.TaskCreated || tp.Handle == "" {
		t.Fatalf("unexpected trustpilot task %+v", tp)
	}
	if !strings.HasPrefix(tp.SourceURL, "https://www.trustpilot.com/") {
		t.Fatalf("unexpected fallback url %s", tp.SourceURL)
	}
	yelp := tasks[domain.SourceYelp]
	if yelp.State != domain.TaskFailed || !strings.Contains(yelp.FailureReason, "quota exceeded") {
		t.Fatalf("unexpected yelp task %+v", yelp)
	}
	if !strings.Contains(reg.Render(), `outcome="error"`) {
		t.Fatal("expected failed submission to be counted")
	}
}

func TestAdvance(t *testing.T) {
	p := &fakeProvider{statuses: map[string]RemoteStatus{
		"h-1": {State: "active"},
		"h-2": {State: "completed", Answer: "great reviews"},
		"h-3": {State: "failed", Error: "blocked by captcha"},
	}}
	c := New(p, Options{})
	ctx := context.Background()

	active := &SourceTask{Source: domain.SourceNews, Handle: "h-1", State: domain.TaskCreated}
	if err := c.Advance(ctx, active); err != nil || active.State != domain.TaskActive {
		t.Fatalf("expected active, got %s %v", active.State, err)
	}

	done := &SourceTask{Source: domain.SourceTrustpilot, Handle: "h-2", State: domain.TaskActive}
	if err := c.Advance(ctx, done); err != nil || done.State != domain.TaskCompleted || done.Payload != "great reviews" {
		t.Fatalf("unexpected completed task %+v %v", done, err)
	}

	failed := &SourceTask{Source: domain.SourceYelp, Handle: "h-3", State: domain.TaskActive}
	if err := c.Advance(ctx, failed); err != nil || failed.State != domain.TaskFailed || failed.FailureReason != "blocked by captcha" {
		t.Fatalf("unexpected failed task %+v %v", failed, err)
	}

	// terminal tasks are not polled again
	p.statuses["h-2"] = RemoteStatus{State: "failed"}
	if err := c.Advance(ctx, done); err != nil || done.State != domain.TaskCompleted {
		t.Fatalf("terminal task changed: %+v", done)
	}
}

func TestAdvanceTransientErrorKeepsState(t *testing.T) {
	p := &fakeProvider{pollErr: errors.New("connection reset")}
	c := New(p, Options{Breaker: resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 100, Timeout: time.Second})})
	task := &SourceTask{Source: domain.SourceBlog, Handle: "h-9", State: domain.TaskActive}

	err := c.Advance(context.Background(), task)
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("expected ErrProviderTransient, got %v", err)
	}
	if task.State != domain.TaskActive {
		t.Fatalf("state changed on transient error: %s", task.State)
	}
}

func TestRender(t *testing.T) {
	prompt, u := Render(domain.SourceWebsite, "Blue Bottle", TaskContext{})
	if !strings.Contains(prompt, `"Blue Bottle"`) || !strings.Contains(prompt, "www.bluebottle.com") {
		t.Fatalf("unexpected prompt %s", prompt)
	}
	if u != "https://www.bluebottle.com" {
		t.Fatalf("unexpected url %s", u)
	}

	_, u = Render(domain.SourceWebsite, "Nike", TaskContext{WebsiteURL: "https://nike.com"})
	if u != "https://nike.com" {
		t.Fatalf("unexpected url %s", u)
	}

	if _, u = Render(domain.SourceWebsite, "100% Cotton", TaskContext{}); u != "" {
		t.Fatalf("unparseable guessed site should give no fallback, got %s", u)
	}

	prompt, u = Render(domain.SourceOther, "Nike", TaskContext{})
	if !strings.Contains(prompt, `"Nike"`) || !strings.Contains(u, "google.com") {
		t.Fatalf("unexpected generic template %s %s", prompt, u)
	}

	for _, src := range domain.KnownSources {
		if _, ok := Catalog[src]; !ok {
			t.Errorf("no template for %s", src)
		}
	}
}
