// Package events publishes search lifecycle events on NATS.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/pkg/natsutil"
)

// SubjectSessionCompleted carries one SessionCompleted per finished session.
const SubjectSessionCompleted = "clarity.search.completed"

// SourceSummary is the per-source outcome of a session.
type SourceSummary struct {
	State           domain.TaskState `json:"state"`
	Entries         int              `json:"entries"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	ProcessingError string           `json:"processing_error,omitempty"`
}

// SessionCompleted is the event body. It carries aggregates only; entries
// stay in the store.
type SessionCompleted struct {
	SessionID   string                              `json:"session_id"`
	Query       string                              `json:"query"`
	Stats       domain.Stats                        `json:"stats"`
	Sources     map[domain.SourceType]SourceSummary `json:"sources"`
	Saved       bool                                `json:"saved"`
	SaveError   string                              `json:"save_error,omitempty"`
	BatchFile   string                              `json:"batch_file,omitempty"`
	CompletedAt time.Time                           `json:"completed_at"`
}

// FromSnapshot builds the event for a completed snapshot.
func FromSnapshot(snap search.Snapshot) SessionCompleted {
	ev := SessionCompleted{
		SessionID: snap.SessionID,
		Query:     snap.Query,
		Sources:   make(map[domain.SourceType]SourceSummary, len(snap.Sources)),
		Saved:     snap.Saved,
		SaveError: snap.SaveError,
	}
	if snap.Stats != nil {
		ev.Stats = *snap.Stats
	}
	if snap.Batch != nil {
		ev.BatchFile = snap.Batch.File
	}
	if snap.CompletedAt != nil {
		ev.CompletedAt = *snap.CompletedAt
	}
	for src, st := range snap.Sources {
		sum := SourceSummary{State: st.State, FailureReason: st.FailureReason, ProcessingError: st.ProcessingError}
		if st.EntryCount != nil {
			sum.Entries = *st.EntryCount
		}
		ev.Sources[src] = sum
	}
	return ev
}

// Publisher implements search.Notifier over a NATS connection.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. An empty subject means
// SubjectSessionCompleted.
func NewPublisher(nc *nats.Conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = SubjectSessionCompleted
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger}
}

// SessionCompleted publishes the event for snap.
func (p *Publisher) SessionCompleted(ctx context.Context, snap search.Snapshot) error {
	ev := FromSnapshot(snap)
	if err := natsutil.Publish(ctx, p.nc, p.subject, ev); err != nil {
		return fmt.Errorf("events: publish %s: %w", snap.SessionID, err)
	}
	p.logger.Debug("session event published", "subject", p.subject, "session_id", snap.SessionID)
	return nil
}

// Subscribe calls handler for every SessionCompleted on subject.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, SessionCompleted)) (*nats.Subscription, error) {
	if subject == "" {
		subject = SubjectSessionCompleted
	}
	sub, err := natsutil.Subscribe(nc, subject, handler)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", subject, err)
	}
	return sub, nil
}
