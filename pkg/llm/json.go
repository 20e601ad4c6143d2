package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals model output into v. It tolerates markdown code
// fences and chatter around the payload by extracting the outermost JSON
// object or array, whichever starts first.
func DecodeJSON(content string, v any) error {
	payload, err := sanitizeJSONPayload(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decode llm json: %w", err)
	}
	return nil
}

func sanitizeJSONPayload(content string) (string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl != -1 {
			// drop the language tag line, e.g. ```json
			if !strings.ContainsAny(s[:nl], "{[") {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return "", errors.New("decode llm json: empty payload")
	}

	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	var open, closer byte
	start := -1
	switch {
	case arr != -1 && (obj == -1 || arr < obj):
		start, open, closer = arr, '[', ']'
	case obj != -1:
		start, open, closer = obj, '{', '}'
	default:
		return "", errors.New("decode llm json: no object or array found")
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return "", fmt.Errorf("decode llm json: unterminated %c", open)
	}
	return s[start : end+1], nil
}
