package search

import (
	"encoding/json"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/store"
)

// Progress counts terminal sources.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// SourceStatus is the per-source view of a session. EntryCount is set once
// the session completes, so zero results and failure stay distinguishable.
type SourceStatus struct {
	State           domain.TaskState `json:"state"`
	Handle          string           `json:"external_handle,omitempty"`
	SourceURL       string           `json:"source_url,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	EntryCount      *int             `json:"entry_count,omitempty"`
	ProcessingError string           `json:"processing_error,omitempty"`
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID   string                             `json:"session_id"`
	Query       string                             `json:"query"`
	WebsiteURL  string                             `json:"website_url,omitempty"`
	State       domain.SessionState                `json:"state"`
	Progress    Progress                           `json:"progress"`
	Sources     map[domain.SourceType]SourceStatus `json:"sources"`
	Entries     []domain.ReputationEntry           `json:"entries"`
	Stats       *domain.Stats                      `json:"stats"`
	AutoSave    bool                               `json:"auto_save"`
	Saved       bool                               `json:"saved"`
	SaveError   string                             `json:"save_error,omitempty"`
	Batch       *store.BatchInfo                   `json:"batch,omitempty"`
	CreatedAt   time.Time                          `json:"created_at"`
	CompletedAt *time.Time                         `json:"completed_at,omitempty"`
}

// MarshalJSON leaves entries and stats out until the session completes and
// always renders them as values afterwards.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	if s.State == domain.SessionCompleted {
		if s.Entries == nil {
			s.Entries = []domain.ReputationEntry{}
		}
		return json.Marshal(plain(s))
	}
	return json.Marshal(struct {
		plain
		Entries *struct{} `json:"entries,omitempty"`
		Stats   *struct{} `json:"stats,omitempty"`
	}{plain: plain(s)})
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		Query:      s.query,
		WebsiteURL: s.websiteURL,
		State:      s.state,
		Progress:   Progress{Total: len(s.sources)},
		Sources:    make(map[domain.SourceType]SourceStatus, len(s.sources)),
		AutoSave:   s.autoSave,
		CreatedAt:  s.createdAt,
	}
	for _, src := range s.sources {
		t := s.tasks[src]
		if t.State.Terminal() {
			snap.Progress.Completed++
		}
		snap.Sources[src] = SourceStatus{
			State:         t.State,
			Handle:        t.Handle,
			SourceURL:     t.SourceURL,
			FailureReason: t.FailureReason,
		}
	}
	if !s.completedAt.IsZero() {
		at := s.completedAt
		snap.CompletedAt = &at
	}
	return snap
}
