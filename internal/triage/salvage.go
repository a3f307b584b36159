package triage

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimPrefix(text, "JSON")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	return strings.TrimSpace(text)
}

// extractObject returns the first top-level JSON object in text. complete is
// false when the object is cut off before its closing brace.
func extractObject(text string) (obj string, complete bool) {
	text = stripCodeFence(text)
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

// repairTruncated closes an object cut off mid-stream: it terminates an open
// string, drops a dangling key or separator, and closes open brackets.
func repairTruncated(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s
	if escaped {
		out = out[:len(out)-1]
	}
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	switch {
	case strings.HasSuffix(out, ","):
		out = strings.TrimSuffix(out, ",")
	case strings.HasSuffix(out, ":"):
		out += "null"
	}
	// A trailing bare key inside an object ("a":1,"b") cannot be decoded.
	if len(stack) > 0 && stack[len(stack)-1] == '}' {
		if m := danglingKey.FindStringIndex(out); m != nil {
			out = strings.TrimRight(out[:m[0]], " \t\r\n,")
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

var danglingKey = regexp.MustCompile(`[,{]\s*"(?:[^"\\]|\\.)*"\s*$`)

// decodeFields decodes obj (repairing it when truncated) into raw fields.
// Returns nil when nothing usable could be recovered.
func decodeFields(text string) (fields map[string]json.RawMessage, complete bool) {
	obj, complete := extractObject(text)
	if obj == "" {
		return nil, false
	}
	if complete {
		if err := json.Unmarshal([]byte(obj), &fields); err == nil {
			return fields, true
		}
	}
	if err := json.Unmarshal([]byte(repairTruncated(obj)), &fields); err == nil && len(fields) > 0 {
		return fields, false
	}
	return scrapeFields(obj), false
}

var stringField = regexp.MustCompile(`"([A-Za-z_]+)"\s*:\s*"((?:[^"\\]|\\.)*)`)

// scrapeFields pulls "key": "value" pairs out of text that is not valid JSON
// even after repair.
func scrapeFields(text string) map[string]json.RawMessage {
	matches := stringField.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(matches))
	for _, m := range matches {
		value := m[2]
		if unq, err := strconv.Unquote(`"` + value + `"`); err == nil {
			value = unq
		}
		raw, _ := json.Marshal(value)
		out[m[1]] = raw
	}
	return out
}

// fieldString reads a string-ish field. Arrays are joined with "; ".
func fieldString(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			return strings.Join(trimAll(list), "; "), true
		}
	}
	return "", false
}

// fieldList reads a list field. A comma-separated string is split.
func fieldList(fields map[string]json.RawMessage, keys ...string) ([]string, bool) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			return trimAll(list), true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return trimAll(strings.Split(s, ",")), true
		}
	}
	return nil, false
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
