package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/clarityhq/clarity/pkg/llm"
)

// Candidate is one loosely structured mention as returned by an extractor.
// Every field is optional; Repair decides what survives.
type Candidate struct {
	Date       FlexString      `json:"date"`
	Summary    FlexString      `json:"summary"`
	ReviewText FlexString      `json:"review_text"`
	Title      FlexString      `json:"title"`
	Reviewer   FlexString      `json:"reviewer"`
	URL        FlexString      `json:"url"`
	Rating     FlexFloat       `json:"rating"`
	Score      FlexFloat       `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

// UnmarshalJSON accepts the score under any of the names models tend to use.
func (c *Candidate) UnmarshalJSON(b []byte) error {
	type plain Candidate
	var aux struct {
		plain
		SentimentScore  FlexFloat `json:"sentiment_score"`
		ReputationScore FlexFloat `json:"reputation_score"`
		Score           FlexFloat `json:"score"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*c = Candidate(aux.plain)
	for _, s := range []FlexFloat{aux.SentimentScore, aux.ReputationScore, aux.Score} {
		if s.Valid {
			c.Score = s
			break
		}
	}
	c.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// FlexString decodes strings, numbers, and null into a trimmed string.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(v))
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		*s = ""
	default:
		*s = FlexString(string(b))
	}
	return nil
}

func (s FlexString) String() string { return string(s) }

// FlexFloat decodes numbers, numeric strings such as "0.8" or "4/5", and
// null. Anything unparseable is left invalid rather than failing the item.
type FlexFloat struct {
	Value float64
	Valid bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	*f = FlexFloat{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		f.Value, f.Valid = parseLooseFloat(s)
		return nil
	}
	if v, err := strconv.ParseFloat(string(b), 64); err == nil && !math.IsNaN(v) {
		f.Value, f.Valid = v, true
	}
	return nil
}

func parseLooseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if num, _, ok := strings.Cut(s, "/"); ok {
		s = strings.TrimSpace(num)
	}
	s = strings.TrimSuffix(s, " stars")
	s = strings.TrimSuffix(s, " star")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

var listKeys = []string{"items", "entries", "results", "reviews", "mentions", "data"}

// DecodeCandidates parses model output into candidates. It accepts a bare
// array, an object wrapping an array under a common key, or a single
// object. Elements that are not objects are skipped.
func DecodeCandidates(content string) ([]Candidate, error) {
	var raw json.RawMessage
	if err := llm.DecodeJSON(content, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	var elems []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("decode candidates: %w", err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode candidates: %w", err)
		}
		found := false
		for _, k := range listKeys {
			if v, ok := obj[k]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '[' {
				if err := json.Unmarshal(v, &elems); err != nil {
					return nil, fmt.Errorf("decode candidates: %s: %w", k, err)
				}
				found = true
				break
			}
		}
		if !found {
			elems = []json.RawMessage{raw}
		}
	default:
		return nil, errors.New("decode candidates: unexpected payload")
	}

	out := make([]Candidate, 0, len(elems))
	for _, e := range elems {
		e = bytes.TrimSpace(e)
		if len(e) == 0 || e[0] != '{' {
			continue
		}
		var c Candidate
		if err := json.Unmarshal(e, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
