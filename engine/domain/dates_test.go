package domain

import (
	"testing"
	"time"
)

var processingDay = time.Date(2025, 11, 16, 14, 30, 0, 0, time.UTC)

func TestNormalizeDate_Relative(t *testing.T) {
	cases := map[string]string{
		"two days ago":      "2025-11-14",
		"2 days ago":        "2025-11-14",
		"Yesterday":         "2025-11-15",
		"today":             "2025-11-16",
		"1 hour ago":        "2025-11-16",
		"23 hours ago":      "2025-11-16",
		"5 minutes ago":     "2025-11-16",
		"a week ago":        "2025-11-09",
		"3 weeks ago":       "2025-10-26",
		"a month ago":       "2025-10-16",
		"2 months ago":      "2025-09-16",
		"one year ago":      "2024-11-16",
		"last week":         "2025-11-09",
		"Posted 4 days ago": "2025-11-12",
	}
	for in, want := range cases {
		got, ok := NormalizeDate(in, processingDay)
		if !ok {
			t.Errorf("%q: expected parse", in)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalizeDate_Absolute(t *testing.T) {
	cases := map[string]string{
		"2025-11-15":               "2025-11-15",
		"2025-11-15T08:12:00Z":     "2025-11-15",
		"2025-11-15T08:12:00+02:00": "2025-11-15",
		"2025-11-15 08:12:00":      "2025-11-15",
		"11-15-2025":               "2025-11-15",
		"11/15/2025":               "2025-11-15",
		"3/4/2025":                 "2025-03-04",
		"15/11/2025":               "2025-11-15",
		"Nov 15, 2025":             "2025-11-15",
		"November 15, 2025":        "2025-11-15",
		"November 15th, 2025":      "2025-11-15",
		"15 November 2025":         "2025-11-15",
		"1st of Sept 2025":         "2025-09-01",
		"Saturday, November 15, 2025": "2025-11-15",
	}
	for in, want := range cases {
		got, ok := NormalizeDate(in, processingDay)
		if !ok {
			t.Errorf("%q: expected parse", in)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalizeDate_FallsBackToProcessingDate(t *testing.T) {
	for _, in := range []string{"", "   ", "sometime recently", "n/a", "32/13/2025"} {
		got, ok := NormalizeDate(in, processingDay)
		if ok {
			t.Errorf("%q: expected no parse", in)
		}
		if got != "2025-11-16" {
			t.Errorf("%q: expected fallback 2025-11-16, got %s", in, got)
		}
	}
}
