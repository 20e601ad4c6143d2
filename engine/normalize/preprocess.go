package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxInput is the number of characters handed to an extractor.
const DefaultMaxInput = 8000

var htmlTagRe = regexp.MustCompile(`(?i)<(html|head|body|div|p|span|table|tr|td|ul|ol|li|a|br|h[1-6]|article|section|script|style)[\s>/]`)

// Preprocessor turns provider answers into plain text. Answers that look
// like HTML are sanitized and converted to markdown first.
type Preprocessor struct {
	policy   *bluemonday.Policy
	markdown *converter.Converter
	maxChars int
}

// NewPreprocessor creates a Preprocessor that keeps at most maxChars
// characters. Zero means DefaultMaxInput.
func NewPreprocessor(maxChars int) *Preprocessor {
	if maxChars <= 0 {
		maxChars = DefaultMaxInput
	}
	return &Preprocessor{
		policy: bluemonday.UGCPolicy(),
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		maxChars: maxChars,
	}
}

// Clean returns the text to extract from.
func (p *Preprocessor) Clean(payload, sourceURL string) string {
	text := strings.TrimSpace(payload)
	if htmlTagRe.MatchString(text) {
		safe := p.policy.Sanitize(text)
		opts := []converter.ConvertOptionFunc{}
		if sourceURL != "" {
			opts = append(opts, converter.WithDomain(sourceURL))
		}
		if md, err := p.markdown.ConvertString(safe, opts...); err == nil {
			text = strings.TrimSpace(md)
		} else {
			text = strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(text))
		}
	}
	return truncateRunes(text, p.maxChars)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
