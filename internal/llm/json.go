package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a model reply into v. Replies wrapped in markdown code
// fences or surrounded by prose are tolerated; anything else is reported as
// ErrMalformedResponse.
func DecodeJSON(text string, v any) error {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return fmt.Errorf("%w: no JSON value in reply", ErrMalformedResponse)
	}
	closer := byte('}')
	if body[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(body, closer)
	if end < start {
		return fmt.Errorf("%w: unterminated JSON value", ErrMalformedResponse)
	}

	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
