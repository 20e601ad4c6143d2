package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/normalize"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/engine/task"
	"github.com/clarityhq/clarity/pkg/metrics"
)

var testNow = time.Date(2025, 11, 16, 12, 0, 0, 0, time.UTC)

type fakeCoord struct {
	mu         sync.Mutex
	outcomes   map[domain.SourceType]task.PollResult
	createFail map[domain.SourceType]string
	pollErr    error
	advances   atomic.Int32
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{outcomes: map[domain.SourceType]task.PollResult{}, createFail: map[domain.SourceType]string{}}
}

func (f *fakeCoord) CreateTasks(_ context.Context, _ string, sources []domain.SourceType, _ task.TaskContext) map[domain.SourceType]*task.SourceTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.SourceType]*task.SourceTask, len(sources))
	for _, src := range sources {
		t := &task.SourceTask{Source: src, SourceURL: "https://example.com/" + string(src)}
		if reason, ok := f.createFail[src]; ok {
			t.State = domain.TaskFailed
			t.FailureReason = reason
		} else {
			t.State = domain.TaskCreated
			t.Handle = "h-" + string(src)
		}
		out[src] = t
	}
	return out
}

func (f *fakeCoord) Advance(_ context.Context, t *task.SourceTask) error {
	f.advances.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return f.pollErr
	}
	res, ok := f.outcomes[t.Source]
	if !ok {
		res = task.PollResult{State: domain.TaskActive}
	}
	t.State = res.State
	t.Payload = res.Payload
	t.FailureReason = res.FailureReason
	return nil
}

func (f *fakeCoord) set(src domain.SourceType, res task.PollResult) {
	f.mu.Lock()
	f.outcomes[src] = res
	f.mu.Unlock()
}

func (f *fakeCoord) setPollErr(err error) {
	f.mu.Lock()
	f.pollErr = err
	f.mu.Unlock()
}

type fakeNorm struct {
	counts map[domain.SourceType]int
	fail   map[domain.SourceType]bool
	calls  atomic.Int32
}

func (f *fakeNorm) Normalize(_ context.Context, in normalize.Input) ([]domain.ReputationEntry, error) {
	f.calls.Add(1)
	if f.fail[in.Source] {
		return []domain.ReputationEntry{}, fmt.Errorf("normalize %s: %w", in.Source, domain.ErrExtraction)
	}
	out := make([]domain.ReputationEntry, 0, f.counts[in.Source])
	for i := 0; i < f.counts[in.Source]; i++ {
		out = append(out, domain.ReputationEntry{
			Date:            "2025-11-14",
			SourceURL:       in.FallbackURL,
			SourceType:      in.Source,
			ReputationScore: 0.5,
			Summary:         fmt.Sprintf("%s review %d about %s", in.Source, i, in.Brand),
			ScrapedAt:       testNow,
		})
	}
	return out, nil
}

type fakeStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeStore) Append(_ context.Context, brand, batchID string, entries []domain.ReputationEntry) (store.BatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return store.BatchInfo{}, f.err
	}
	return store.BatchInfo{Brand: brand, BatchID: batchID, Count: len(entries)}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakeNotifier) SessionCompleted(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	f.snaps = append(f.snaps, snap)
	f.mu.Unlock()
	return nil
}

func newTestManager(c Coordinator, n Normalizer, st Appender) *Manager {
	return NewManager(c, n, Options{
		Store:   st,
		Metrics: metrics.New(),
		Now:     func() time.Time { return testNow },
	})
}

func TestNikeScenarioProcessing(t *testing.T) {
	coord := newFakeCoord()
	m := newTestManager(coord, &fakeNorm{}, nil)
	ctx := context.Background()

	snap, err := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"trustpilot", "yelp"}})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	for _, src := range []domain.SourceType{domain.SourceTrustpilot, domain.SourceYelp} {
		if snap.Sources[src].State != domain.TaskCreated {
			t.Fatalf("%s: expected created, got %s", src, snap.Sources[src].State)
		}
	}

	snap, err = m.Status(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.State != domain.SessionProcessing || snap.Progress != (Progress{Completed: 0, Total: 2}) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	raw, _ := json.Marshal(snap)
	if strings.Contains(string(raw), `"entries"`) || strings.Contains(string(raw), `"stats"`) {
		t.Fatalf("processing snapshot must not carry results: %s", raw)
	}
}

func TestNikeScenarioCompleted(t *testing.T) {
	coord := newFakeCoord()
	norm := &fakeNorm{counts: map[domain.SourceType]int{domain.SourceTrustpilot: 3}}
	notifier := &fakeNotifier{}
	m := NewManager(coord, norm, Options{Notifier: notifier, Now: func() time.Time { return testNow }})
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"trustpilot", "yelp"}})
	coord.set(domain.SourceTrustpilot, task.PollResult{State: domain.TaskCompleted, Payload: "three reviews"})
	coord.set(domain.SourceYelp, task.PollResult{State: domain.TaskFailed, FailureReason: "blocked"})

	snap, err := m.Status(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.State != domain.SessionCompleted || snap.Progress != (Progress{Completed: 2, Total: 2}) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap.Entries))
	}
	for _, e := range snap.Entries {
		if e.SourceType != domain.SourceTrustpilot {
			t.Fatalf("unexpected source %s", e.SourceType)
		}
	}
	if snap.Stats.TotalResults != 3 || snap.Stats.BySource[domain.SourceTrustpilot].Count != 3 {
		t.Fatalf("unexpected stats %+v", snap.Stats)
	}
	if _, ok := snap.Stats.BySource[domain.SourceYelp]; ok {
		t.Fatal("failed source must not appear in stats")
	}
	yelp := snap.Sources[domain.SourceYelp]
	if yelp.State != domain.TaskFailed || yelp.FailureReason != "blocked" || yelp.EntryCount == nil || *yelp.EntryCount != 0 {
		t.Fatalf("unexpected yelp status %+v", yelp)
	}
	if n := snap.Sources[domain.SourceTrustpilot].EntryCount; n == nil || *n != 3 {
		t.Fatalf("unexpected trustpilot entry count %v", n)
	}
	if snap.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if len(notifier.snaps) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.snaps))
	}

	// cached afterwards
	advances, calls := coord.advances.Load(), norm.calls.Load()
	again, err := m.Status(ctx, snap.SessionID)
	if err != nil || again.State != domain.SessionCompleted || len(again.Entries) != 3 {
		t.Fatalf("unexpected cached snapshot %+v %v", again, err)
	}
	if coord.advances.Load() != advances || norm.calls.Load() != calls {
		t.Fatal("completed session touched coordinator or normalizer")
	}
}

func TestAllSourcesFailedCompletesEmpty(t *testing.T) {
	coord := newFakeCoord()
	coord.createFail[domain.SourceNews] = "create task: quota"
	coord.createFail[domain.SourceBlog] = "create task: quota"
	st := &fakeStore{}
	m := newTestManager(coord, &fakeNorm{}, st)
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"news", "blog"}, AutoSave: true})
	snap, err := m.Status(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.State != domain.SessionCompleted || len(snap.Entries) != 0 || snap.Stats.TotalResults != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if coord.advances.Load() != 0 {
		t.Fatal("failed tasks must not be polled")
	}
	if st.calls != 0 || snap.Saved {
		t.Fatal("empty result must not be persisted")
	}
	raw, _ := json.Marshal(snap)
	if !strings.Contains(string(raw), `"entries":[]`) {
		t.Fatalf("expected empty entries array, got %s", raw)
	}
}

func TestEntryCountMatchesCompletedSources(t *testing.T) {
	coord := newFakeCoord()
	norm := &fakeNorm{
		counts: map[domain.SourceType]int{domain.SourceTrustpilot: 2, domain.SourceNews: 4, domain.SourceForum: 5},
		fail:   map[domain.SourceType]bool{domain.SourceForum: true},
	}
	m := newTestManager(coord, norm, nil)
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"news", "trustpilot", "forum", "yelp"}})
	for _, src := range []domain.SourceType{domain.SourceTrustpilot, domain.SourceNews, domain.SourceForum} {
		coord.set(src, task.PollResult{State: domain.TaskCompleted, Payload: "x"})
	}
	coord.set(domain.SourceYelp, task.PollResult{State: domain.TaskFailed, FailureReason: "timeout"})

	snap, err := m.Status(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(snap.Entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(snap.Entries))
	}
	// requested order: news first, then trustpilot
	if snap.Entries[0].SourceType != domain.SourceNews || snap.Entries[5].SourceType != domain.SourceTrustpilot {
		t.Fatalf("entries not in requested source order: %+v", snap.Entries)
	}
	forum := snap.Sources[domain.SourceForum]
	if forum.State != domain.TaskCompleted || *forum.EntryCount != 0 || forum.ProcessingError == "" {
		t.Fatalf("unexpected forum status %+v", forum)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	coord := newFakeCoord()
	m := newTestManager(coord, &fakeNorm{}, nil)
	ctx := context.Background()
	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"trustpilot", "yelp", "news"}})

	steps := []func(){
		func() {},
		func() { coord.set(domain.SourceYelp, task.PollResult{State: domain.TaskFailed}) },
		func() { coord.setPollErr(errors.New("connection reset")) },
		func() {
			coord.setPollErr(nil)
			coord.set(domain.SourceNews, task.PollResult{State: domain.TaskCompleted, Payload: "p"})
		},
		func() { coord.set(domain.SourceTrustpilot, task.PollResult{State: domain.TaskCompleted, Payload: "p"}) },
	}
	last := -1
	for i, step := range steps {
		step()
		got, err := m.Status(ctx, snap.SessionID)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got.Progress.Completed < last {
			t.Fatalf("step %d: progress went from %d to %d", i, last, got.Progress.Completed)
		}
		last = got.Progress.Completed
		if got.State == domain.SessionCompleted != (got.Progress.Completed == got.Progress.Total) {
			t.Fatalf("step %d: state %s with progress %+v", i, got.State, got.Progress)
		}
	}
	if last != 3 {
		t.Fatalf("expected all sources terminal, got %d", last)
	}
}

func TestConcurrentStatusPersistsOnce(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir, store.Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	coord := newFakeCoord()
	norm := &fakeNorm{counts: map[domain.SourceType]int{domain.SourceTrustpilot: 3, domain.SourceYelp: 2}}
	m := newTestManager(coord, norm, st)
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"trustpilot", "yelp"}, AutoSave: true})
	coord.set(domain.SourceTrustpilot, task.PollResult{State: domain.TaskCompleted, Payload: "a"})
	coord.set(domain.SourceYelp, task.PollResult{State: domain.TaskCompleted, Payload: "b"})

	var wg sync.WaitGroup
	var saved atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Status(ctx, snap.SessionID)
			if err != nil {
				t.Errorf("status: %v", err)
				return
			}
			if got.State != domain.SessionCompleted || len(got.Entries) != 5 {
				t.Errorf("unexpected snapshot %+v", got)
			}
			if got.Saved {
				saved.Add(1)
			}
		}()
	}
	wg.Wait()

	if norm.calls.Load() != 2 {
		t.Fatalf("expected one normalization per source, got %d", norm.calls.Load())
	}
	files, _ := filepath.Glob(filepath.Join(dir, "Nike", "day_*.json"))
	if len(files) != 1 {
		t.Fatalf("expected exactly one batch file, got %d", len(files))
	}
	if saved.Load() != 16 {
		t.Fatalf("every caller should see the saved snapshot, got %d", saved.Load())
	}
	data, _ := os.ReadFile(files[0])
	var persisted []domain.ReputationEntry
	if err := json.Unmarshal(data, &persisted); err != nil || len(persisted) != 5 {
		t.Fatalf("unexpected batch content %d %v", len(persisted), err)
	}
}

func TestPersistenceFailureSurfacesOnce(t *testing.T) {
	coord := newFakeCoord()
	norm := &fakeNorm{counts: map[domain.SourceType]int{domain.SourceTrustpilot: 1}}
	st := &fakeStore{err: errors.New("disk full")}
	m := newTestManager(coord, norm, st)
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"trustpilot"}, AutoSave: true})
	coord.set(domain.SourceTrustpilot, task.PollResult{State: domain.TaskCompleted, Payload: "a"})

	got, err := m.Status(ctx, snap.SessionID)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got.State != domain.SessionCompleted || got.Saved || !strings.Contains(got.SaveError, "disk full") || len(got.Entries) != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	again, err := m.Status(ctx, snap.SessionID)
	if err != nil || again.Saved || again.SaveError == "" {
		t.Fatalf("unexpected follow-up %+v %v", again, err)
	}
	if st.calls != 1 {
		t.Fatalf("expected a single append attempt, got %d", st.calls)
	}
}

func TestInitiateValidation(t *testing.T) {
	m := newTestManager(newFakeCoord(), &fakeNorm{}, nil)
	ctx := context.Background()

	if _, err := m.Initiate(ctx, InitiateRequest{Query: "   "}); !errors.Is(err, domain.ErrInvalidQuery) || !domain.IsValidation(err) {
		t.Fatalf("expected invalid query, got %v", err)
	}
	if _, err := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"myspace"}}); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("expected invalid source, got %v", err)
	}
	snap, err := m.Initiate(ctx, InitiateRequest{Query: " Nike ", Sources: []string{"Trustpilot", "trustpilot", "google-reviews"}})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if snap.Query != "Nike" || snap.Progress.Total != 2 {
		t.Fatalf("expected trimmed query and deduplicated sources, got %+v", snap)
	}
	snap, _ = m.Initiate(ctx, InitiateRequest{Query: "Nike"})
	if snap.Progress.Total != len(domain.DefaultSources) {
		t.Fatalf("expected default sources, got %d", snap.Progress.Total)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	m := newTestManager(newFakeCoord(), &fakeNorm{}, nil)
	_, err := m.Status(context.Background(), "nope")
	if !errors.Is(err, domain.ErrSessionNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryEvictsAfterTTL(t *testing.T) {
	now := testNow
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	reg := NewRegistry(0, clock, nil)
	m := NewManager(newFakeCoord(), &fakeNorm{}, Options{Registry: reg, Now: clock})
	ctx := context.Background()

	snap, _ := m.Initiate(ctx, InitiateRequest{Query: "Nike", Sources: []string{"news"}})
	mu.Lock()
	now = now.Add(59 * time.Minute)
	mu.Unlock()
	if n := m.CleanupExpired(); n != 0 {
		t.Fatalf("evicted %d sessions before ttl", n)
	}
	if _, err := m.Status(ctx, snap.SessionID); err != nil {
		t.Fatalf("session should still exist: %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if n := m.CleanupExpired(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := m.Status(ctx, snap.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected evicted session, got %v", err)
	}
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := NewRegistry(time.Millisecond, nil, nil)
	reg.put(&session{id: "old", createdAt: time.Now().Add(-time.Hour)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if reg.Len() != 0 {
		t.Fatal("janitor did not evict expired session")
	}
}
