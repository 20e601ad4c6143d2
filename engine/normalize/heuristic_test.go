package normalize

import (
	"context"
	"math"
	"testing"

	"github.com/clarityhq/clarity/engine/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestKeywordScore(t *testing.T) {
	five, four, two := 5.0, 4.0, 2.0
	cases := []struct {
		text   string
		rating *float64
		want   float64
	}{
		{"Great product, love it", &five, 1.0},
		{"it arrived", &four, 0.6},
		{"bad stitching", &two, -0.8},
		{"Never again, total scam", nil, -0.2},
		{"shipping was fine", nil, 0},
	}
	for _, tc := range cases {
		if got := KeywordScore(tc.text, tc.rating); !approx(got, tc.want) {
			t.Errorf("%q: expected %v, got %v", tc.text, tc.want, got)
		}
	}
}

func TestHeuristicExtractJSON(t *testing.T) {
	text := `[
		{"review_text":"Excellent service, highly recommend","rating":"5/5","date":"2025-11-10"},
		{"title":"Nike recalls shoes","summary":"A problem with soles"},
		{"reviewer":"skip me"}
	]`
	got, err := HeuristicExtractor{}.Extract(context.Background(), ExtractRequest{Source: domain.SourceTrustpilot, Text: text})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if !got[0].Score.Valid || got[0].Score.Value != 1.0 {
		t.Fatalf("unexpected review score %+v", got[0].Score)
	}
	if !approx(got[1].Score.Value, -0.1) {
		t.Fatalf("unexpected article score %+v", got[1].Score)
	}
}

func TestHeuristicExtractLines(t *testing.T) {
	text := "Love these shoes\n\nterrible support\nline 3\nline 4\nline 5\nline 6"
	got, err := HeuristicExtractor{}.Extract(context.Background(), ExtractRequest{Source: domain.SourceForum, Text: text})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(got))
	}
	if got[0].Summary != "Love these shoes" || !approx(got[0].Score.Value, 0.1) || !approx(got[1].Score.Value, -0.1) {
		t.Fatalf("unexpected candidates %+v %+v", got[0], got[1])
	}
}

func TestNormalizeWithHeuristic(t *testing.T) {
	n := newTestNormalizer(HeuristicExtractor{})
	entries, err := n.Normalize(context.Background(), Input{Payload: "Best running shoes I own", Source: domain.SourceBlog, Brand: "Nike", FallbackURL: "https://www.google.com/search?q=Nike+blog"})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d %v", len(entries), err)
	}
	if entries[0].Date != "2025-11-16" || entries[0].SourceURL != "https://www.google.com/search?q=Nike+blog" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}
