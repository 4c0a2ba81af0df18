package keywords

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxUniqueNumbers caps the number list when the model hallucinates.
const maxUniqueNumbers = 5

// CarMetadata is the structured result of one inference response.
type CarMetadata struct {
	CarDetected    bool
	PeopleDetected bool
	Make           string
	Model          string
	Color          string
	Class          string
	Subcategory    string
	Engine         string
	Numbers        []string
	FuzzyNumbers   []string
	Raw            string
}

var titleCaser = cases.Title(language.English)

// ParseResponse converts a raw model response into CarMetadata. A JSON
// object is preferred, repaired when necessary; plain-text responses fall
// back to line-oriented parsing. Parsing never fails outright: the worst
// case is metadata with defaults only.
func ParseResponse(response string) CarMetadata {
	meta := CarMetadata{CarDetected: true, Raw: response}

	if payload, ok := extractJSON(response); ok {
		fixed := QuoteBareNumbers(payload)
		var data map[string]any
		if err := json.Unmarshal([]byte(fixed), &data); err == nil {
			parseObject(&meta, data)
			return meta
		}
	}

	parseText(&meta, response)
	return meta
}

func parseObject(meta *CarMetadata, data map[string]any) {
	meta.PeopleDetected = asBool(data["people_detected"])

	if detected, present := data["car_detected"]; present && !asBool(detected) {
		meta.CarDetected = false
		return
	}

	meta.Make = asString(data["make"])
	meta.Model = asString(data["model"])
	meta.Color = asColor(data["color"])
	meta.Class = asString(data["class"])
	meta.Subcategory = asString(data["subcategory"])
	meta.Engine = asString(data["engine"])

	nums := asStrings(firstPresent(data, "numbers", "number"))
	digits := nums[:0]
	for _, n := range nums {
		if isDigits(n) {
			digits = append(digits, n)
		}
	}
	meta.Numbers = dedupeIfHallucinated(digits)

	for _, n := range asStrings(firstPresent(data, "fuzzy_numbers", "possible_numbers")) {
		if n != "" {
			meta.FuzzyNumbers = append(meta.FuzzyNumbers, n)
		}
	}
}

// dedupeIfHallucinated guards against runaway number output. More than ten
// numbers in one frame is never real; keep the first few unique values.
func dedupeIfHallucinated(nums []string) []string {
	if len(nums) <= 10 {
		return nums
	}
	seen := make(map[string]struct{})
	var unique []string
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			continue
		}
		if len(unique) >= maxUniqueNumbers {
			break
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}
	return unique
}

func parseText(meta *CarMetadata, response string) {
	for _, line := range strings.Split(strings.ToLower(response), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "make:") || strings.Contains(line, "manufacturer:"):
			meta.Make = titleCaser.String(afterColon(line))
		case strings.Contains(line, "model:"):
			meta.Model = afterColon(line)
		case strings.Contains(line, "color:") || strings.Contains(line, "colour:"):
			meta.Color = titleCaser.String(afterColon(line))
		case strings.Contains(line, "class:"):
			meta.Class = strings.ToUpper(afterColon(line))
		case strings.Contains(line, "number:") || strings.Contains(line, "num:"):
			for _, token := range strings.Fields(strings.ReplaceAll(afterColon(line), ",", " ")) {
				if isDigits(token) {
					meta.Numbers = append(meta.Numbers, token)
				}
			}
		}
	}
}

func afterColon(line string) string {
	_, value, _ := strings.Cut(line, ":")
	return strings.TrimSpace(value)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstPresent(data map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := data[key]; ok {
			return value
		}
	}
	return nil
}

func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// asColor accepts either a single color or a list, joining lists the way
// Lightroom users expect ("Red and White").
func asColor(value any) string {
	if list, ok := value.([]any); ok {
		var colors []string
		for _, entry := range list {
			if s := asString(entry); s != "" {
				colors = append(colors, s)
			}
		}
		return strings.Join(colors, " and ")
	}
	return asString(value)
}

func asStrings(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, entry := range v {
			if s := asString(entry); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := asString(v); s != "" {
			return []string{s}
		}
		return nil
	}
}
