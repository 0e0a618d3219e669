package judge

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

// ExtractJSON pulls a bare JSON object or array out of judge output that may
// be wrapped in markdown fences or surrounding prose. It returns the raw
// JSON text only when it validates, so callers can branch on a parse error
// without relying on exceptions for control flow.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty judge output")
	}

	if fenced := stripFences(s); fenced != "" {
		s = fenced
	}

	if candidate := boundedSlice(s, '{', '}'); candidate != "" {
		if err := fastjson.Validate(candidate); err == nil {
			return candidate, nil
		}
	}
	if candidate := boundedSlice(s, '[', ']'); candidate != "" {
		if err := fastjson.Validate(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no valid JSON object or array in judge output")
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Drop a language tag like ```json on the fence line.
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{[") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

func boundedSlice(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
