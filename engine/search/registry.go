package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/task"
)

// DefaultTTL is how long a session stays in the registry after creation.
const DefaultTTL = 60 * time.Minute

// session is one orchestration unit. mu serializes advancement; every
// field below it is read and written only while mu is held.
type session struct {
	mu sync.Mutex

	id          string
	query       string
	sources     []domain.SourceType
	tasks       map[domain.SourceType]*task.SourceTask
	state       domain.SessionState
	autoSave    bool
	websiteURL  string
	createdAt   time.Time
	completedAt time.Time
	final       *Snapshot
}

// Registry owns live sessions and evicts them TTL after creation,
// whatever their state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates a Registry. Zero ttl means DefaultTTL and a nil now
// means time.Now.
func NewRegistry(ttl time.Duration, now func() time.Time, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*session), ttl: ttl, now: now, logger: logger}
}

func (r *Registry) put(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *Registry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CleanupExpired evicts sessions older than the TTL and returns how many
// were removed.
func (r *Registry) CleanupExpired() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		// createdAt is immutable after put, so no session lock is needed
		if !s.createdAt.After(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.CleanupExpired(); n > 0 {
				r.logger.Info("expired sessions evicted", "count", n, "live", r.Len())
			}
		}
	}
}
