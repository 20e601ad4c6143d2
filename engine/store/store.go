// Package store persists reputation entries as immutable JSON batch files,
// one directory per brand and one file per (brand, day, batch). Files are
// written to a temporary name and renamed into place, so readers never see
// a partial batch and need no locks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/metrics"
	"github.com/clarityhq/clarity/pkg/repo"
)

var batchNameRe = regexp.MustCompile(`^day_(\d{4}-\d{2}-\d{2})_(.+)\.json$`)

// Options configures a Store.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

// Store is a file-backed, append-only entry store.
type Store struct {
	root    string
	logger  *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Open prepares root for use, creating it if needed.
func Open(root string, opts Options) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("store: root directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{root: root, logger: opts.Logger, metrics: opts.Metrics, now: opts.Now}, nil
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// BatchInfo describes one written batch.
type BatchInfo struct {
	Brand   string    `json:"brand"`
	BatchID string    `json:"batch_id"`
	Day     string    `json:"day"`
	File    string    `json:"file"`
	Count   int       `json:"count"`
	SavedAt time.Time `json:"saved_at"`
}

// BrandSummary is one entry of ListBrands.
type BrandSummary struct {
	Name        string    `json:"name"`
	LastUpdated time.Time `json:"last_updated"`
	Batches     int       `json:"batches"`
}

// BrandStats is the full-scan aggregate for one brand.
type BrandStats struct {
	TotalEntries int                                      `json:"total_entries"`
	AverageScore float64                                  `json:"average_score"`
	BySource     map[domain.SourceType]domain.SourceStats `json:"by_source"`
	LatestDate   string                                   `json:"latest_date,omitempty"`
}

// DateFilter selects batches by the day they were written. On wins over
// From and To; an empty filter matches everything. Bounds are inclusive.
type DateFilter struct {
	On   string
	From string
	To   string
}

func (f DateFilter) match(day string) bool {
	if f.On != "" {
		return day == f.On
	}
	if f.From != "" && day < f.From {
		return false
	}
	if f.To != "" && day > f.To {
		return false
	}
	return true
}

// Validate checks that every bound is a canonical date.
func (f DateFilter) Validate() error {
	for field, v := range map[string]string{"date": f.On, "start_date": f.From, "end_date": f.To} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, v); err != nil {
			return domain.NewValidationError(field, v, domain.ErrInvalidDate)
		}
	}
	return nil
}

// PartitionName maps a brand onto its directory name. The name is NFC
// normalized and path separators, reserved and control characters become
// underscores.
func PartitionName(brand string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(brand))
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", domain.NewValidationError("brand", brand, domain.ErrInvalidBrand)
	}
	return name, nil
}

// Append writes entries as a new batch for brand. An empty batchID gets a
// fresh UUID. Every entry must pass domain.ValidateEntry.
func (s *Store) Append(ctx context.Context, brand, batchID string, entries []domain.ReputationEntry) (BatchInfo, error) {
	if len(entries) == 0 {
		return BatchInfo{}, fmt.Errorf("store: append: %w", domain.ErrEmptyBatch)
	}
	part, err := PartitionName(brand)
	if err != nil {
		return BatchInfo{}, fmt.Errorf("store: append: %w", err)
	}
	for i, e := range entries {
		if err := domain.ValidateEntry(e); err != nil {
			return BatchInfo{}, fmt.Errorf("store: append: entry %d: %w", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return BatchInfo{}, err
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}
	if batchID, err = PartitionName(batchID); err != nil {
		return BatchInfo{}, fmt.Errorf("store: append: batch id: %w", err)
	}

	start := time.Now()
	now := s.now().UTC()
	day := now.Format(domain.DateLayout)
	dir := filepath.Join(s.root, part)
	name := fmt.Sprintf("day_%s_%s.json", day, batchID)
	if err := writeAtomic(dir, name, entries); err != nil {
		s.metrics.Inc("clarity_store_append_errors_total", "Batch writes that failed.")
		return BatchInfo{}, fmt.Errorf("store: append %s: %w: %w", part, domain.ErrPersistence, err)
	}
	s.metrics.Inc("clarity_store_batches_written_total", "Batch files written.")
	s.metrics.Add("clarity_store_entries_written_total", "Entries written to batch files.", int64(len(entries)))
	s.metrics.ObserveSince("clarity_store_append_seconds", "Batch write latency.", start)
	s.logger.Info("batch written", "brand", part, "file", name, "entries", len(entries))
	return BatchInfo{Brand: part, BatchID: batchID, Day: day, File: name, Count: len(entries), SavedAt: now}, nil
}

func writeAtomic(dir, name string, entries []domain.ReputationEntry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

type batchFile struct {
	path    string
	day     string
	modTime time.Time
}

// batches lists the batch files of brand in discovery order: by day, then
// write time, then name.
func (s *Store) batches(brand string) (string, []batchFile, error) {
	part, err := PartitionName(brand)
	if err != nil {
		return "", nil, err
	}
	dir := filepath.Join(s.root, part)
	des, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return part, nil, domain.ErrBrandNotFound
		}
		return part, nil, fmt.Errorf("read partition %s: %w", part, err)
	}
	var out []batchFile
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		m := batchNameRe.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return part, nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		out = append(out, batchFile{path: filepath.Join(dir, de.Name()), day: m[1], modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].day != out[j].day {
			return out[i].day < out[j].day
		}
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.Before(out[j].modTime)
		}
		return out[i].path < out[j].path
	})
	return part, out, nil
}

func readBatch(path string) ([]domain.ReputationEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var entries []domain.ReputationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

func (s *Store) scan(ctx context.Context, brand string, keep func(batchFile) bool) ([]domain.ReputationEntry, error) {
	_, files, err := s.batches(brand)
	if err != nil {
		return nil, err
	}
	out := []domain.ReputationEntry{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if keep != nil && !keep(f) {
			continue
		}
		entries, err := readBatch(f.path)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Query concatenates the entries of every batch whose day matches f, in
// discovery order. A positive limit caps the result.
func (s *Store) Query(ctx context.Context, brand string, f DateFilter, limit int) ([]domain.ReputationEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	out, err := s.scan(ctx, brand, func(b batchFile) bool { return f.match(b.day) })
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", brand, err)
	}
	return repo.Page(out, repo.ListOpts{Limit: limit}), nil
}

// Latest returns entries across all batches, newest scraped_at first,
// windowed by opts.
func (s *Store) Latest(ctx context.Context, brand string, opts repo.ListOpts) ([]domain.ReputationEntry, error) {
	out, err := s.scan(ctx, brand, nil)
	if err != nil {
		return nil, fmt.Errorf("store: latest %s: %w", brand, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScrapedAt.After(out[j].ScrapedAt) })
	return repo.Page(out, opts), nil
}

// Stats aggregates every entry of brand.
func (s *Store) Stats(ctx context.Context, brand string) (BrandStats, error) {
	all, err := s.scan(ctx, brand, nil)
	if err != nil {
		return BrandStats{}, fmt.Errorf("store: stats %s: %w", brand, err)
	}
	agg := domain.Aggregate(all)
	st := BrandStats{TotalEntries: agg.TotalResults, AverageScore: agg.AverageScore, BySource: agg.BySource}
	var newest time.Time
	for _, e := range all {
		if st.LatestDate == "" || e.ScrapedAt.After(newest) {
			newest = e.ScrapedAt
			st.LatestDate = e.Date
		}
	}
	return st, nil
}

// ListBrands returns every brand partition sorted by name.
func (s *Store) ListBrands(ctx context.Context) ([]BrandSummary, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: list brands: %w", err)
	}
	out := []BrandSummary{}
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		_, files, err := s.batches(de.Name())
		if err != nil {
			return nil, fmt.Errorf("store: list brands: %w", err)
		}
		sum := BrandSummary{Name: de.Name(), Batches: len(files)}
		for _, f := range files {
			if f.modTime.After(sum.LastUpdated) {
				sum.LastUpdated = f.modTime
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
