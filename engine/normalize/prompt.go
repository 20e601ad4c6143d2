package normalize

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/clarityhq/clarity/engine/domain"
)

const systemPrompt = `You turn scraped web content about a brand into structured JSON. You answer with a single JSON object and nothing else.`

var extractTmpl = template.Must(template.New("extract").Parse(`SOURCE TYPE: {{.Source}}
BRAND: {{.Brand}}
CURRENT DATE: {{.Today}}

RAW DATA:
"""
{{.Text}}
"""

Return {"items": [...]} where each item describes one review, article or post found above.
{{- if .Review}}
Review fields: review_text, rating (1-5), date, reviewer ("Anonymous" when unknown), summary, sentiment_score.
{{- else}}
Article and post fields: title, summary, date, source (publication, forum or site name), url (empty when unknown), sentiment_score.
{{- end}}

Rules:
- date is when the content was published, not when it was scraped, written as YYYY-MM-DD.
  "Yesterday" is {{.Yesterday}}. "1 hour ago" is {{.Today}}. "3 days ago" is {{.ThreeDaysAgo}}.
- summary is one or two sentences, at most 200 characters. Build it from the other fields when the text is empty.
- sentiment_score is a number from -1.0 (very negative for the brand) to 1.0 (very positive). 5 stars is about 0.8, 3 stars is 0, 1 star is about -0.8.
- Extract every distinct item you can find, up to 20.
- When nothing relevant is present return {"items": []}.`))

type promptData struct {
	Source       domain.SourceType
	Brand        string
	Text         string
	Review       bool
	Today        string
	Yesterday    string
	ThreeDaysAgo string
}

func isReviewSource(src domain.SourceType) bool {
	switch src {
	case domain.SourceTrustpilot, domain.SourceYelp, domain.SourceGoogleReviews:
		return true
	}
	return false
}

func buildPrompt(req ExtractRequest) (string, error) {
	now := req.Now.UTC()
	var b strings.Builder
	err := extractTmpl.Execute(&b, promptData{
		Source:       req.Source,
		Brand:        req.Brand,
		Text:         req.Text,
		Review:       isReviewSource(req.Source),
		Today:        now.Format(domain.DateLayout),
		Yesterday:    now.AddDate(0, 0, -1).Format(domain.DateLayout),
		ThreeDaysAgo: now.AddDate(0, 0, -3).Format(domain.DateLayout),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
