// Package search runs search sessions: it starts one remote task per
// source, advances them when a caller asks for status, and on completion
// normalizes, aggregates and optionally persists the results exactly once.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/normalize"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/engine/task"
	"github.com/clarityhq/clarity/pkg/fn"
	"github.com/clarityhq/clarity/pkg/metrics"
)

// Coordinator creates and advances remote source tasks.
type Coordinator interface {
	CreateTasks(ctx context.Context, query string, sources []domain.SourceType, tc task.TaskContext) map[domain.SourceType]*task.SourceTask
	Advance(ctx context.Context, t *task.SourceTask) error
}

// Normalizer turns one completed payload into entries.
type Normalizer interface {
	Normalize(ctx context.Context, in normalize.Input) ([]domain.ReputationEntry, error)
}

// Appender persists one batch.
type Appender interface {
	Append(ctx context.Context, brand, batchID string, entries []domain.ReputationEntry) (store.BatchInfo, error)
}

// Notifier is told about every completed session.
type Notifier interface {
	SessionCompleted(ctx context.Context, snap Snapshot) error
}

// ErrStoreDisabled is the save error of auto-save sessions when no store
// is configured.
var ErrStoreDisabled = errors.New("search: no store configured")

// InitiateRequest starts a session.
type InitiateRequest struct {
	Query      string   `json:"query"`
	Sources    []string `json:"sources"`
	AutoSave   bool     `json:"auto_save"`
	WebsiteURL string   `json:"website_url"`
}

// Options configures a Manager.
type Options struct {
	Registry *Registry
	Store    Appender
	Notifier Notifier
	// Workers bounds parallel polls and normalizations per session.
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
	NewID   func() string
}

// Manager is the only writer of session state.
type Manager struct {
	coord    Coordinator
	norm     Normalizer
	registry *Registry
	store    Appender
	notifier Notifier
	workers  int
	logger   *slog.Logger
	metrics  *metrics.Registry
	now      func() time.Time
	newID    func() string
}

// NewManager wires a Manager.
func NewManager(c Coordinator, n Normalizer, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(DefaultTTL, opts.Now, opts.Logger)
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		coord:    c,
		norm:     n,
		registry: opts.Registry,
		store:    opts.Store,
		notifier: opts.Notifier,
		workers:  opts.Workers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Initiate validates req, submits one task per source and registers the
// session. It does not wait for any task.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (Snapshot, error) {
	query, err := domain.ValidateQuery(req.Query)
	if err != nil {
		return Snapshot{}, fmt.Errorf("search: initiate: %w", err)
	}
	sources, err := domain.ValidateSources(req.Sources)
	if err != nil {
		return Snapshot{}, fmt.Errorf("search: initiate: %w", err)
	}
	website, err := domain.ValidateWebsite(req.WebsiteURL)
	if err != nil {
		return Snapshot{}, fmt.Errorf("search: initiate: %w", err)
	}

	tasks := m.coord.CreateTasks(ctx, query, sources, task.TaskContext{WebsiteURL: website})
	s := &session{
		id:         m.newID(),
		query:      query,
		sources:    sources,
		tasks:      tasks,
		state:      domain.SessionProcessing,
		autoSave:   req.AutoSave,
		websiteURL: website,
		createdAt:  m.now(),
	}
	// a source the coordinator did not report is treated as a failed submission
	for _, src := range sources {
		if _, ok := s.tasks[src]; !ok {
			s.tasks[src] = &task.SourceTask{Source: src, State: domain.TaskFailed, FailureReason: "task was not created", UpdatedAt: s.createdAt}
		}
	}
	m.registry.put(s)
	m.metrics.Inc("clarity_sessions_started_total", "Search sessions started.")
	m.metrics.Set("clarity_sessions_live", "Sessions held in the registry.", int64(m.registry.Len()))
	m.logger.Info("search initiated", "session_id", s.id, "query", query, "sources", len(sources), "auto_save", req.AutoSave)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Status advances the session and returns its snapshot. Calls for one
// session are serialized; once completed, the cached snapshot is returned
// without touching any collaborator. A persistence failure is returned
// together with the completed snapshot, and only on the completing call.
func (m *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	s, ok := m.registry.get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("search: status %s: %w", id, domain.ErrSessionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final != nil {
		return *s.final, nil
	}

	var pending []*task.SourceTask
	for _, src := range s.sources {
		if t := s.tasks[src]; !t.State.Terminal() {
			pending = append(pending, t)
		}
	}
	// each worker owns a distinct task; results are joined before reading state
	fn.ParMap(pending, m.workers, func(t *task.SourceTask) error {
		return m.coord.Advance(ctx, t)
	})

	for _, src := range s.sources {
		if !s.tasks[src].State.Terminal() {
			return s.snapshot(), nil
		}
	}
	// The transition must finish even if the caller goes away mid-way,
	// otherwise a cancelled request would cache an empty result.
	return m.complete(context.WithoutCancel(ctx), s)
}

type sourceResult struct {
	src     domain.SourceType
	entries []domain.ReputationEntry
	err     error
}

func (m *Manager) complete(ctx context.Context, s *session) (Snapshot, error) {
	start := time.Now()
	var done []*task.SourceTask
	for _, src := range s.sources {
		if t := s.tasks[src]; t.State == domain.TaskCompleted {
			done = append(done, t)
		}
	}
	results := fn.ParMap(done, m.workers, func(t *task.SourceTask) sourceResult {
		entries, err := m.norm.Normalize(ctx, normalize.Input{
			Payload:     t.Payload,
			Source:      t.Source,
			Brand:       s.query,
			FallbackURL: t.SourceURL,
		})
		return sourceResult{src: t.Source, entries: entries, err: err}
	})

	s.state = domain.SessionCompleted
	s.completedAt = m.now()
	snap := s.snapshot()

	entries := []domain.ReputationEntry{}
	for _, src := range s.sources {
		st := snap.Sources[src]
		zero := 0
		st.EntryCount = &zero
		snap.Sources[src] = st
	}
	for _, r := range results {
		st := snap.Sources[r.src]
		n := len(r.entries)
		st.EntryCount = &n
		if r.err != nil {
			st.ProcessingError = r.err.Error()
		}
		snap.Sources[r.src] = st
		entries = append(entries, r.entries...)
	}
	stats := domain.Aggregate(entries)
	snap.Entries = entries
	snap.Stats = &stats

	var saveErr error
	if s.autoSave && len(entries) > 0 {
		saveErr = m.persist(ctx, s, &snap)
	}

	if m.notifier != nil {
		if err := m.notifier.SessionCompleted(ctx, snap); err != nil {
			m.logger.Warn("session notification failed", "session_id", s.id, "err", err)
		}
	}

	s.final = &snap
	m.metrics.Inc("clarity_sessions_completed_total", "Search sessions that reached completed.")
	m.metrics.ObserveSince("clarity_session_completion_seconds", "Time spent normalizing and persisting a completed session.", start)
	m.logger.Info("search completed",
		"session_id", s.id,
		"query", s.query,
		"entries", len(entries),
		"completed_sources", len(done),
		"failed_sources", len(s.sources)-len(done),
		"saved", snap.Saved,
	)
	return snap, saveErr
}

func (m *Manager) persist(ctx context.Context, s *session, snap *Snapshot) error {
	if m.store == nil {
		snap.SaveError = ErrStoreDisabled.Error()
		m.logger.Warn("auto save requested without a store", "session_id", s.id)
		return fmt.Errorf("search: persist %s: %w: %w", s.id, domain.ErrPersistence, ErrStoreDisabled)
	}
	info, err := m.store.Append(ctx, s.query, s.id, snap.Entries)
	if err != nil {
		snap.SaveError = err.Error()
		m.logger.Error("auto save failed", "session_id", s.id, "query", s.query, "err", err)
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return fmt.Errorf("search: persist %s: %w", s.id, err)
	}
	snap.Saved = true
	snap.Batch = &info
	return nil
}

// CleanupExpired evicts sessions past their TTL.
func (m *Manager) CleanupExpired() int {
	n := m.registry.CleanupExpired()
	m.metrics.Set("clarity_sessions_live", "Sessions held in the registry.", int64(m.registry.Len()))
	return n
}
