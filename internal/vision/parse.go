package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type location struct {
	Found *bool    `json:"found"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
}

type verdict struct {
	Passed     bool    `json:"passed"`
	Visible    *bool   `json:"visible"` // accepted as a synonym for passed
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details"`
}

// parseLocation decodes a locate reply
func parseLocation(response string) (x, y float64, found bool, err error) {
	var loc location
	if err := decodeObject(response, &loc); err != nil {
		return 0, 0, false, err
	}
	if loc.Found != nil && !*loc.Found {
		return 0, 0, false, nil
	}
	if loc.X == nil || loc.Y == nil {
		return 0, 0, false, errors.New("reply has no x/y coordinates")
	}
	return *loc.X, *loc.Y, true, nil
}

// parseVerdict decodes a check reply. Confidence is normalized to [0, 1];
// models answer on a 0-100 scale but sometimes use 0-1.
func parseVerdict(response string) (passed bool, confidence float64, details string, err error) {
	var v verdict
	if err := decodeObject(response, &v); err != nil {
		return false, 0, "", err
	}
	passed = v.Passed
	if v.Visible != nil {
		passed = passed || *v.Visible
	}
	return passed, normalizeConfidence(v.Confidence), v.Details, nil
}

func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	return min(max(c, 0), 1)
}

// decodeObject parses the first JSON object in response, tolerating
// surrounding prose and code fences
func decodeObject(response string, v any) error {
	response = strings.TrimSpace(response)
	if err := json.Unmarshal([]byte(response), v); err == nil {
		return nil
	}

	obj, err := extractObject(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return nil
}

// extractObject returns the first balanced {...} in s, skipping braces
// inside string literals
func extractObject(s string) (string, error) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", errors.New("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("no matching closing brace found")
}
