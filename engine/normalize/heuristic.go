package normalize

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

var (
	positiveWords = []string{
		"excellent", "great", "amazing", "fantastic", "wonderful",
		"love", "best", "outstanding", "perfect", "highly recommend",
		"impressed", "satisfied", "happy", "good", "positive",
	}
	negativeWords = []string{
		"terrible", "awful", "horrible", "worst", "bad", "poor",
		"disappointed", "waste", "scam", "fraud", "avoid", "never",
		"unhappy", "unsatisfied", "negative", "problem", "issue",
	}
)

const (
	heuristicMaxLines   = 5
	heuristicLineLength = 200
)

// HeuristicExtractor scores content with a keyword count and, for reviews,
// the star rating. It needs no model and is used when none is configured.
type HeuristicExtractor struct{}

// Extract implements Extractor. JSON payloads are read item by item; plain
// text contributes its first few non-empty lines.
func (HeuristicExtractor) Extract(_ context.Context, req ExtractRequest) ([]Candidate, error) {
	if items, err := DecodeCandidates(req.Text); err == nil {
		out := make([]Candidate, 0, len(items))
		for _, c := range items {
			switch {
			case c.ReviewText != "":
				var rating *float64
				if c.Rating.Valid {
					rating = &c.Rating.Value
				}
				c.Score = FlexFloat{Value: KeywordScore(string(c.ReviewText), rating), Valid: true}
			case c.Title != "" && c.Summary != "":
				c.Score = FlexFloat{Value: KeywordScore(string(c.Title)+". "+string(c.Summary), nil), Valid: true}
			default:
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}

	var out []Candidate
	for _, line := range strings.Split(req.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		summary := line
		if utf8.RuneCountInString(summary) > heuristicLineLength {
			summary = string([]rune(summary)[:heuristicLineLength])
		}
		raw, _ := json.Marshal(line)
		out = append(out, Candidate{
			Summary: FlexString(summary),
			Score:   FlexFloat{Value: KeywordScore(line, nil), Valid: true},
			Raw:     raw,
		})
		if len(out) == heuristicMaxLines {
			break
		}
	}
	return out, nil
}

// KeywordScore rates text in [-1, 1]. A rating of 4 or more starts at 0.6,
// 3 starts neutral and anything lower starts at -0.4 or below. Each matched
// positive or negative keyword moves the score by 0.1.
func KeywordScore(text string, rating *float64) float64 {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}

	var base float64
	if rating != nil {
		r := *rating
		switch {
		case r >= 4:
			base = 0.6 + (r-4)*0.4
		case r >= 3:
			base = 0
		default:
			base = -0.4 - (3-r)*0.3
		}
	}
	return clamp(base + float64(pos-neg)*0.1)
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
