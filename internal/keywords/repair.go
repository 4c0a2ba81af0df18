// Package keywords turns raw vision-model responses into Lightroom
// keyword hierarchies. Local vision models truncate JSON, emit bare
// numbers with leading zeros, and occasionally hallucinate runaway number
// arrays; the repair layer salvages what it can before parsing.
package keywords

import (
	"regexp"
	"strings"
)

var numberArrayPattern = regexp.MustCompile(`\[(\s*\d+(?:\s*,\s*\d+)*\s*)\]`)

// QuoteBareNumbers rewrites arrays of bare numbers as string arrays.
// Racing numbers like 06 or 007 are invalid JSON numbers, and even valid
// ones must stay strings to preserve leading zeros.
func QuoteBareNumbers(raw string) string {
	return numberArrayPattern.ReplaceAllStringFunc(raw, func(match string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(match, "["), "]")
		parts := strings.Split(inner, ",")
		quoted := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			quoted = append(quoted, `"`+part+`"`)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	})
}

// FixTruncated tries to salvage JSON cut off mid-response. It truncates at
// the last complete quoted string, drops hallucinated runaway number
// lines, and closes whatever brackets and braces remain open.
func FixTruncated(raw string) string {
	if strings.HasSuffix(strings.TrimRight(raw, " \t\r\n"), "}") {
		return raw
	}

	// Truncate after the last string element that is properly terminated.
	lastComplete := -1
	inString := false
	for i := 0; i < len(raw); i++ {
		if raw[i] == '"' && (i == 0 || raw[i-1] != '\\') {
			inString = !inString
			if !inString {
				rest := strings.TrimLeft(raw[i+1:], " \t\r\n")
				if rest != "" && strings.ContainsRune(",]}", rune(rest[0])) {
					lastComplete = i + 1
				}
			}
		}
	}
	if lastComplete > 0 && lastComplete < len(raw)-1 {
		raw = strings.TrimRight(strings.TrimRight(raw[:lastComplete], " \t\r\n"), ",")
	}

	// Long lines of nothing but digits and separators are hallucinated
	// array content; everything from there on is garbage.
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if len(line) > 100 && isNumericNoise(line) {
			break
		}
		kept = append(kept, line)
	}
	result := strings.Join(kept, "\n")

	openBrackets := strings.Count(result, "[") - strings.Count(result, "]")
	openBraces := strings.Count(result, "{") - strings.Count(result, "}")

	result = strings.TrimRight(strings.TrimRight(result, " \t\r\n"), ",")
	result += strings.Repeat("]", max(0, openBrackets))
	result += strings.Repeat("}", max(0, openBraces))
	return result
}

func isNumericNoise(line string) bool {
	for _, r := range line {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ' || r == '\t' || r == ',' || r == '[' || r == ']' || r == '"':
		default:
			return false
		}
	}
	return true
}

// extractJSON pulls the JSON object out of a model response that may have
// prose around it, repairing truncation when the closing brace is missing.
func extractJSON(response string) (string, bool) {
	start := strings.Index(response, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(response, "}")
	if end > start {
		return response[start : end+1], true
	}
	return FixTruncated(response[start:]), true
}
