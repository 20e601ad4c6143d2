// Package task submits one remote browser-automation job per source and
// translates the provider's state strings into the canonical task states.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/browsercash"
	"github.com/clarityhq/clarity/pkg/fn"
	"github.com/clarityhq/clarity/pkg/metrics"
	"github.com/clarityhq/clarity/pkg/resilience"
)

// RemoteStatus is the decoded provider view of one task.
type RemoteStatus struct {
	State  string
	Answer string
	Error  string
}

// Provider is the remote browser-automation capability.
type Provider interface {
	CreateTask(ctx context.Context, prompt string, stepLimit int) (string, error)
	GetTask(ctx context.Context, handle string) (RemoteStatus, error)
}

// BrowserCash adapts a browsercash.Client to Provider.
type BrowserCash struct {
	Client *browsercash.Client
}

// CreateTask implements Provider.
func (b BrowserCash) CreateTask(ctx context.Context, prompt string, stepLimit int) (string, error) {
	return b.Client.CreateTask(ctx, prompt, stepLimit)
}

// GetTask implements Provider.
func (b BrowserCash) GetTask(ctx context.Context, handle string) (RemoteStatus, error) {
	t, err := b.Client.GetTask(ctx, handle)
	if err != nil {
		return RemoteStatus{}, err
	}
	return RemoteStatus{State: t.State, Answer: t.AnswerText(), Error: t.ErrorText()}, nil
}

// SourceTask is one remote job tracked for a single source.
type SourceTask struct {
	Source        domain.SourceType `json:"source_type"`
	Handle        string            `json:"external_handle,omitempty"`
	State         domain.TaskState  `json:"state"`
	Payload       string            `json:"-"`
	FailureReason string            `json:"failure_reason,omitempty"`
	SourceURL     string            `json:"source_url"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PollResult is the canonical outcome of one poll.
type PollResult struct {
	State         domain.TaskState
	Payload       string
	FailureReason string
}

var (
	successStates = map[string]bool{
		"completed": true, "complete": true, "succeeded": true,
		"success": true, "done": true, "finished": true,
	}
	failureStates = map[string]bool{
		"failed": true, "failure": true, "error": true, "errored": true,
		"cancelled": true, "canceled": true, "timeout": true, "timed_out": true,
		"aborted": true, "expired": true,
	}
)

// Classify maps a provider status onto a canonical state. Completion needs
// both an explicit success state and a non-empty answer; only an explicit
// failure state yields failed; anything else is still active.
func Classify(rs RemoteStatus) PollResult {
	state := strings.ToLower(strings.TrimSpace(rs.State))
	state = strings.ReplaceAll(state, "-", "_")
	switch {
	case successStates[state] && strings.TrimSpace(rs.Answer) != "":
		return PollResult{State: domain.TaskCompleted, Payload: rs.Answer}
	case failureStates[state]:
		reason := strings.TrimSpace(rs.Error)
		if reason == "" {
			reason = "task " + state
		}
		return PollResult{State: domain.TaskFailed, FailureReason: reason}
	default:
		return PollResult{State: domain.TaskActive}
	}
}

// Options configures a Coordinator.
type Options struct {
	StepLimit int
	// Workers bounds concurrent submissions. Zero submits all at once.
	Workers int
	Breaker *resilience.Breaker
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// Coordinator creates and polls source tasks.
type Coordinator struct {
	provider Provider
	opts     Options
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

// New creates a Coordinator.
func New(p Provider, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Coordinator{provider: p, opts: opts, breaker: opts.Breaker, logger: opts.Logger}
}

// CreateTasks submits one task per source. A failed submission yields a
// task in the failed state; it never prevents the other submissions.
func (c *Coordinator) CreateTasks(ctx context.Context, query string, sources []domain.SourceType, tc TaskContext) map[domain.SourceType]*SourceTask {
	tasks := fn.ParMap(sources, c.opts.Workers, func(src domain.SourceType) *SourceTask {
		return c.create(ctx, query, src, tc)
	})
	out := make(map[domain.SourceType]*SourceTask, len(tasks))
	for _, t := range tasks {
		out[t.Source] = t
	}
	return out
}

func (c *Coordinator) create(ctx context.Context, query string, src domain.SourceType, tc TaskContext) *SourceTask {
	prompt, fallbackURL := Render(src, query, tc)
	t := &SourceTask{Source: src, SourceURL: fallbackURL, UpdatedAt: c.opts.Now()}

	stepLimit := c.opts.StepLimit
	if tpl, ok := Catalog[src]; ok && tpl.StepLimit > 0 {
		stepLimit = tpl.StepLimit
	}
	r := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		return fn.FromPair(c.provider.CreateTask(ctx, prompt, stepLimit))
	})
	handle, err := r.Unwrap()
	if err != nil {
		t.State = domain.TaskFailed
		t.FailureReason = "create task: " + err.Error()
		c.logger.Warn("task create failed", "source", src, "query", query, "err", err)
		c.opts.Metrics.Inc("clarity_tasks_created_total", "Remote task submissions by outcome.", "source", string(src), "outcome", "error")
		return t
	}
	t.Handle = handle
	t.State = domain.TaskCreated
	c.logger.Info("task created", "source", src, "query", query, "handle", handle)
	c.opts.Metrics.Inc("clarity_tasks_created_total", "Remote task submissions by outcome.", "source", string(src), "outcome", "ok")
	return t
}

// Poll asks the provider for the state of handle. A transport or provider
// error is returned wrapped in domain.ErrProviderTransient.
func (c *Coordinator) Poll(ctx context.Context, handle string) (PollResult, error) {
	start := time.Now()
	r := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[RemoteStatus] {
		return fn.FromPair(c.provider.GetTask(ctx, handle))
	})
	c.opts.Metrics.ObserveSince("clarity_task_poll_seconds", "Remote task poll latency.", start)
	rs, err := r.Unwrap()
	if err != nil {
		return PollResult{}, fmt.Errorf("task: poll %s: %w: %w", handle, domain.ErrProviderTransient, err)
	}
	return Classify(rs), nil
}

// Advance polls t and applies the outcome. Terminal tasks are left alone and
// a poll error leaves t unchanged.
func (c *Coordinator) Advance(ctx context.Context, t *SourceTask) error {
	if t.State.Terminal() {
		return nil
	}
	res, err := c.Poll(ctx, t.Handle)
	if err != nil {
		c.logger.Warn("task poll failed", "source", t.Source, "handle", t.Handle, "err", err)
		c.opts.Metrics.Inc("clarity_task_poll_errors_total", "Remote task polls that failed in transport.", "source", string(t.Source))
		return err
	}
	t.State = res.State
	t.UpdatedAt = c.opts.Now()
	switch res.State {
	case domain.TaskCompleted:
		t.Payload = res.Payload
		c.logger.Info("task completed", "source", t.Source, "handle", t.Handle, "payload_len", len(res.Payload))
	case domain.TaskFailed:
		t.FailureReason = res.FailureReason
		c.logger.Warn("task failed", "source", t.Source, "handle", t.Handle, "reason", res.FailureReason)
	}
	if res.State.Terminal() {
		c.opts.Metrics.Inc("clarity_tasks_finished_total", "Remote tasks reaching a terminal state.", "source", string(t.Source), "state", string(res.State))
	}
	return nil
}
