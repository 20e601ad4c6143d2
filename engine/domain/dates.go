package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeRe = regexp.MustCompile(`^(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty)\s+(second|sec|minute|min|hour|hr|day|week|wk|month|mo|year|yr)s?\s+ago$`)
	ordinalRe  = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20, "thirty": 30,
}

var isoLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
}

// Month-first layouts are tried before day-first ones, so 03/04/2025 is
// March 4th. Day-first only wins when the first field cannot be a month.
var absoluteLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006.01.02",
	"01-02-2006",
	"1-2-2006",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2.1.2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday January 2 2006",
	"Mon Jan 2 2006",
	"Monday 2 January 2006",
	"January 2006",
	"Jan 2006",
}

var datePrefixes = []string{"posted on ", "published on ", "updated on ", "posted ", "published ", "updated ", "reviewed ", "on "}

// NormalizeDate converts a free-form date expression into DateLayout,
// resolving relative forms against now. When the expression cannot be
// understood it returns now's date and false.
func NormalizeDate(expr string, now time.Time) (string, bool) {
	if t, ok := ParseDate(expr, now); ok {
		return t.Format(DateLayout), true
	}
	return now.Format(DateLayout), false
}

// ParseDate resolves an absolute or relative date expression.
func ParseDate(expr string, now time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(expr)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	s := cleanDate(expr)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseRelative(s, now); ok {
		return t, true
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cleanDate(expr string) string {
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.Trim(s, ".!\"'")
	s = strings.ReplaceAll(s, ",", " ")
	s = spaceRe.ReplaceAllString(s, " ")
	for _, p := range datePrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.Replace(s, "sept ", "sep ", 1)
	s = strings.Replace(s, " of ", " ", 1)
	return strings.TrimSpace(s)
}

func parseRelative(s string, now time.Time) (time.Time, bool) {
	switch s {
	case "today", "now", "just now", "moments ago", "a moment ago":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "last week", "a week ago":
		return now.AddDate(0, 0, -7), true
	case "last month":
		return now.AddDate(0, -1, 0), true
	case "last year":
		return now.AddDate(-1, 0, 0), true
	}
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n, ok := numberWords[m[1]]
	if !ok {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		n = v
	}
	switch m[2] {
	case "second", "sec", "minute", "min", "hour", "hr":
		return now, true
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week", "wk":
		return now.AddDate(0, 0, -7*n), true
	case "month", "mo":
		return now.AddDate(0, -n, 0), true
	case "year", "yr":
		return now.AddDate(-n, 0, 0), true
	}
	return time.Time{}, false
}
