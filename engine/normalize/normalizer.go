// Package normalize converts raw provider answers into validated reputation
// entries. Extraction may be done by a language model or by a keyword
// heuristic; either way the output is repaired before it is returned.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/fn"
	"github.com/clarityhq/clarity/pkg/metrics"
)

const ellipsis = "..."

// Input is one completed task payload with its context.
type Input struct {
	Payload     string
	Source      domain.SourceType
	Brand       string
	FallbackURL string
}

// Options configures a Normalizer.
type Options struct {
	MaxInputChars int
	Logger        *slog.Logger
	Metrics       *metrics.Registry
	Now           func() time.Time
}

// Normalizer runs preprocess, extract and repair for one payload.
type Normalizer struct {
	extractor Extractor
	pre       *Preprocessor
	logger    *slog.Logger
	metrics   *metrics.Registry
	now       func() time.Time
	pipeline  fn.Stage[Input, []domain.ReputationEntry]
}

type prepared struct {
	in   Input
	text string
	now  time.Time
}

type extracted struct {
	prepared
	candidates []Candidate
}

// New creates a Normalizer around ex.
func New(ex Extractor, opts Options) *Normalizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	n := &Normalizer{
		extractor: ex,
		pre:       NewPreprocessor(opts.MaxInputChars),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	prepare := fn.MapStage(func(in Input) prepared {
		return prepared{in: in, text: n.pre.Clean(in.Payload, in.FallbackURL), now: n.now().UTC()}
	})
	extract := fn.TracedStage("normalize.extract", func(ctx context.Context, p prepared) fn.Result[extracted] {
		if p.text == "" {
			return fn.Ok(extracted{prepared: p})
		}
		cands, err := n.extractor.Extract(ctx, ExtractRequest{Source: p.in.Source, Brand: p.in.Brand, Text: p.text, Now: p.now})
		if err != nil {
			return fn.Err[extracted](err)
		}
		return fn.Ok(extracted{prepared: p, candidates: cands})
	})
	repair := fn.MapStage(func(x extracted) []domain.ReputationEntry {
		rc := RepairContext{Source: x.in.Source, FallbackURL: x.in.FallbackURL, Now: x.now}
		out := make([]domain.ReputationEntry, 0, len(x.candidates))
		for _, c := range x.candidates {
			if e, ok := Repair(c, rc); ok {
				out = append(out, e)
			}
		}
		return out
	})
	n.pipeline = fn.TracedStage("normalize.source", fn.Then(fn.Then(prepare, extract), repair))
	return n
}

// Normalize converts one payload into entries. An extraction failure yields
// an empty slice and an error wrapping domain.ErrExtraction; callers treat
// it as a per-source problem.
func (n *Normalizer) Normalize(ctx context.Context, in Input) ([]domain.ReputationEntry, error) {
	start := time.Now()
	entries, err := n.pipeline(ctx, in).Unwrap()
	n.metrics.ObserveSince("clarity_normalize_seconds", "Time spent normalizing one payload.", start, "source", string(in.Source))
	if err != nil {
		n.logger.Error("normalize failed", "source", in.Source, "brand", in.Brand, "err", err)
		n.metrics.Inc("clarity_normalize_errors_total", "Payloads that could not be normalized.", "source", string(in.Source))
		return []domain.ReputationEntry{}, fmt.Errorf("normalize %s: %w: %w", in.Source, domain.ErrExtraction, err)
	}
	n.logger.Info("normalized payload", "source", in.Source, "brand", in.Brand, "entries", len(entries))
	n.metrics.Add("clarity_entries_normalized_total", "Entries produced by normalization.", int64(len(entries)), "source", string(in.Source))
	return entries, nil
}

// RepairContext carries what Repair needs beyond the candidate itself.
type RepairContext struct {
	Source      domain.SourceType
	FallbackURL string
	Now         time.Time
}

// Repair coerces a candidate into a valid entry. It reports false only when
// no summary can be built.
func Repair(c Candidate, rc RepairContext) (domain.ReputationEntry, bool) {
	summary := firstNonEmpty(string(c.Summary), string(c.ReviewText), string(c.Title))
	if summary == "" {
		return domain.ReputationEntry{}, false
	}
	if utf8.RuneCountInString(summary) > domain.MaxSummaryLen {
		summary = string([]rune(summary)[:domain.MaxSummaryLen-len(ellipsis)]) + ellipsis
	}

	score := 0.0
	if c.Score.Valid && !math.IsNaN(c.Score.Value) {
		score = clamp(c.Score.Value)
	}

	date, _ := domain.NormalizeDate(string(c.Date), rc.Now)

	var sourceURL string
	switch {
	case domain.IsHTTPURL(string(c.URL)):
		sourceURL = strings.TrimSpace(string(c.URL))
	case domain.IsHTTPURL(rc.FallbackURL):
		sourceURL = strings.TrimSpace(rc.FallbackURL)
	}

	return domain.ReputationEntry{
		Date:            date,
		SourceURL:       sourceURL,
		SourceType:      rc.Source,
		ReputationScore: score,
		Summary:         summary,
		ScrapedAt:       rc.Now,
		RawData:         string(c.Raw),
	}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.Join(strings.Fields(v), " "); v != "" {
			return v
		}
	}
	return ""
}
