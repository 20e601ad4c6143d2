package domain

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const maxQueryLength = 200

// ValidateQuery checks a brand query and returns it trimmed.
func ValidateQuery(q string) (string, error) {
	text := strings.TrimSpace(q)
	if text == "" {
		return "", NewValidationError("query", q, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > maxQueryLength {
		return "", NewValidationError("query", fmt.Sprintf("%d chars", utf8.RuneCountInString(text)), ErrInvalidQuery)
	}
	return text, nil
}

// ValidateSources parses and de-duplicates source names, keeping the first
// occurrence order. An empty list yields DefaultSources.
func ValidateSources(raw []string) ([]SourceType, error) {
	if len(raw) == 0 {
		out := make([]SourceType, len(DefaultSources))
		copy(out, DefaultSources)
		return out, nil
	}
	seen := make(map[SourceType]bool, len(raw))
	out := make([]SourceType, 0, len(raw))
	for _, r := range raw {
		st, err := ParseSourceType(r)
		if err != nil {
			return nil, err
		}
		if seen[st] {
			continue
		}
		seen[st] = true
		out = append(out, st)
	}
	return out, nil
}

// ValidateEntry checks a fully formed entry, as supplied through manual save.
// Unlike the normalizer it rejects rather than repairs.
func ValidateEntry(e ReputationEntry) error {
	if !e.SourceType.Valid() {
		return NewValidationError("source_type", string(e.SourceType), ErrInvalidSource)
	}
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return NewValidationError("date", e.Date, ErrInvalidDate)
	}
	if math.IsNaN(e.ReputationScore) || e.ReputationScore < -1 || e.ReputationScore > 1 {
		return NewValidationError("reputation_score", fmt.Sprintf("%g", e.ReputationScore), ErrScoreOutOfRange)
	}
	if strings.TrimSpace(e.Summary) == "" {
		return NewValidationError("summary", e.Summary, ErrSummaryEmpty)
	}
	if utf8.RuneCountInString(e.Summary) > MaxSummaryLen {
		return NewValidationError("summary", fmt.Sprintf("%d chars", utf8.RuneCountInString(e.Summary)), ErrSummaryTooLong)
	}
	if e.SourceURL != "" && !IsHTTPURL(e.SourceURL) {
		return NewValidationError("source_url", e.SourceURL, ErrInvalidEntry)
	}
	return nil
}

// ValidateWebsite checks an optional brand website. A bare host such as
// nike.com gets an https scheme; an empty value stays empty.
func ValidateWebsite(raw string) (string, error) {
	site := strings.TrimSpace(raw)
	if site == "" {
		return "", nil
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	if !IsHTTPURL(site) {
		return "", NewValidationError("website_url", raw, ErrInvalidWebsite)
	}
	return site, nil
}

// IsHTTPURL reports whether s is an absolute http or https URL.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
