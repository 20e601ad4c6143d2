// Package domain defines core domain types, constants, and validation for the
// Clarity collection pipeline. It acts as the validation gate for anything
// that ends up in the data store.
package domain

import (
	"math"
	"strings"
	"time"
)

// DateLayout is the canonical calendar format for ReputationEntry.Date.
const DateLayout = "2006-01-02"

// MaxSummaryLen is the maximum summary length in characters.
const MaxSummaryLen = 500

// ReputationEntry is one scraped brand-mention signal.
type ReputationEntry struct {
	Date            string     `json:"date"`
	SourceURL       string     `json:"source_url"`
	SourceType      SourceType `json:"source_type"`
	ReputationScore float64    `json:"reputation_score"`
	Summary         string     `json:"summary"`
	ScrapedAt       time.Time  `json:"scraped_at"`
	RawData         string     `json:"raw_data,omitempty"`
}

// SourceType is the closed set of places a mention can come from.
type SourceType string

const (
	SourceTrustpilot    SourceType = "trustpilot"
	SourceYelp          SourceType = "yelp"
	SourceGoogleReviews SourceType = "google_reviews"
	SourceNews          SourceType = "news"
	SourceBlog          SourceType = "blog"
	SourceForum         SourceType = "forum"
	SourceWebsite       SourceType = "website"
	SourceOther         SourceType = "other"
)

// KnownSources lists every source kind in a stable order.
var KnownSources = []SourceType{
	SourceTrustpilot, SourceYelp, SourceGoogleReviews,
	SourceNews, SourceBlog, SourceForum, SourceWebsite, SourceOther,
}

// DefaultSources is used when a search request names no sources.
var DefaultSources = []SourceType{SourceTrustpilot, SourceYelp, SourceGoogleReviews, SourceNews}

// Valid reports whether s is one of the known kinds.
func (s SourceType) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

func (s SourceType) String() string { return string(s) }

// ParseSourceType maps a user supplied name onto a SourceType.
// Matching ignores case, surrounding space, and '-' versus '_'.
func ParseSourceType(raw string) (SourceType, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.ReplaceAll(norm, " ", "_")
	st := SourceType(norm)
	if !st.Valid() {
		return "", NewValidationError("source_type", raw, ErrInvalidSource)
	}
	return st, nil
}

// TaskState is the canonical state of one remote source task.
type TaskState string

const (
	TaskCreated   TaskState = "created"
	TaskActive    TaskState = "active"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// SessionState is the state of a search session.
type SessionState string

const (
	SessionProcessing SessionState = "processing"
	SessionCompleted  SessionState = "completed"
)

// SourceStats aggregates entries from one source.
type SourceStats struct {
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
}

// Stats is an aggregate over a set of entries.
type Stats struct {
	TotalResults int                        `json:"total_results"`
	AverageScore float64                    `json:"average_score"`
	BySource     map[SourceType]SourceStats `json:"by_source"`
}

// Aggregate computes count and mean score overall and per source.
// Averages are rounded to three decimals.
func Aggregate(entries []ReputationEntry) Stats {
	st := Stats{TotalResults: len(entries), BySource: make(map[SourceType]SourceStats)}
	if len(entries) == 0 {
		return st
	}
	sums := make(map[SourceType]float64)
	var total float64
	for _, e := range entries {
		total += e.ReputationScore
		sums[e.SourceType] += e.ReputationScore
		s := st.BySource[e.SourceType]
		s.Count++
		st.BySource[e.SourceType] = s
	}
	st.AverageScore = Round3(total / float64(len(entries)))
	for src, s := range st.BySource {
		s.AverageScore = Round3(sums[src] / float64(s.Count))
		st.BySource[src] = s
	}
	return st
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
