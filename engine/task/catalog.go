package task

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/clarityhq/clarity/engine/domain"
)

// Template is the provider instruction for one source kind.
type Template struct {
	// Prompt may reference {brand} and {website}.
	Prompt string
	// SearchURL is a printf pattern taking the query-escaped brand. It is the
	// fallback source_url for entries that carry no link of their own.
	SearchURL string
	StepLimit int
}

const genericPrompt = `Search the web for recent mentions of "{brand}".
Find 3-5 items if available (reviews, articles, or discussions).
For each item, extract:
- Title or headline
- Text or summary of what is said about the brand
- Publication date
- URL if available

Provide all the information you find.`

// Catalog maps every source kind to its template.
var Catalog = map[domain.SourceType]Template{
	domain.SourceTrustpilot: {
		Prompt: `Go to Trustpilot and search for "{brand}".
Find the most recent 5-10 reviews.
Extract all the information you can see from each review including:
- The full review text
- Star rating (1-5 stars)
- Date of the review
- Reviewer name
- Any other relevant details

Provide all the information you find in a clear format.`,
		SearchURL: "https://www.trustpilot.com/search?query=%s",
	},
	domain.SourceYelp: {
		Prompt: `Go to Yelp, search for "{brand}", and find their business page.
Extract the most recent 5-10 reviews with all available information:
- The full review text
- Star rating (1-5 stars)
- Review date
- Reviewer name
- Any other details you can find

Provide all the information you extract.`,
		SearchURL: "https://www.yelp.com/search?find_desc=%s",
	},
	domain.SourceGoogleReviews: {
		Prompt: `Search Google for "{brand} reviews" and find their Google Business reviews.
Extract the most recent 5-10 reviews with all available information:
- The full review text
- Star rating
- Review date
- Reviewer name if available
- Any other details

Provide all the review information you find.`,
		SearchURL: "https://www.google.com/search?q=%s+reviews",
	},
	domain.SourceNews: {
		Prompt: `Search Google News for recent news articles about "{brand}" from the last 7 days.
Find at least 3-5 news articles if available.
For each article, extract all available information:
- Article title
- Brief description or summary
- Publication date
- Source/publication name
- Article URL if visible

Provide all the article information you find.`,
		SearchURL: "https://news.google.com/search?q=%s",
	},
	domain.SourceBlog: {
		Prompt: `Search for recent blog posts about "{brand}" from the last 30 days.
Use Google search with query: "{brand} blog" or "{brand} blog post".
Find at least 3-5 blog posts if available.
For each blog post, extract:
- Blog post title
- Brief description or excerpt
- Publication date
- Blog URL if available
- Author or blog name

Provide all the blog post information you find.`,
		SearchURL: "https://www.google.com/search?q=%s+blog",
	},
	domain.SourceForum: {
		Prompt: `Search Reddit and other forums for discussions about "{brand}" from the last 30 days.
Use Google search or go directly to Reddit to search for "{brand}".
Find at least 3-5 discussions if available.
For each discussion, extract:
- Discussion title
- Key points or summary of what people are saying
- Post date
- Forum name (Reddit, etc.)
- Discussion URL if available

Provide all the discussion information you find.`,
		SearchURL: "https://www.reddit.com/search/?q=%s",
	},
	domain.SourceWebsite: {
		Prompt: `Go to the official website of "{brand}" (try: {website} or search for it).
Look for recent announcements, press releases, blog posts, or company news.
Find at least 3-5 recent items if available.
For each item, extract:
- Title or headline
- Brief description or summary
- Publication date
- URL of the specific page

Provide all the information you find from the website.`,
	},
	domain.SourceOther: {
		Prompt:    genericPrompt,
		SearchURL: "https://www.google.com/search?q=%s",
	},
}

// TaskContext carries request details that shape prompts.
type TaskContext struct {
	WebsiteURL string
}

// DefaultWebsite guesses a brand's site as www.<brand>.com.
func DefaultWebsite(brand string) string {
	return "www." + strings.ToLower(strings.ReplaceAll(brand, " ", "")) + ".com"
}

// Render returns the provider prompt and fallback URL for src.
func Render(src domain.SourceType, brand string, tc TaskContext) (prompt, fallbackURL string) {
	tpl, ok := Catalog[src]
	if !ok {
		tpl = Catalog[domain.SourceOther]
	}
	website := strings.TrimSpace(tc.WebsiteURL)
	if website == "" {
		website = DefaultWebsite(brand)
	}
	prompt = strings.NewReplacer("{brand}", brand, "{website}", website).Replace(tpl.Prompt)

	if tpl.SearchURL != "" {
		fallbackURL = fmt.Sprintf(tpl.SearchURL, url.QueryEscape(brand))
	} else if site, err := domain.ValidateWebsite(website); err == nil {
		fallbackURL = site
	}
	return prompt, fallbackURL
}
