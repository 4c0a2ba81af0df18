package keywords

import "strings"

// Marker keywords for frames with nothing to tag. NoSubject marks frames
// where neither a car nor people were found; Classified marks a processed
// frame whose metadata produced no keywords, so resumed runs can tell it
// apart from an unprocessed one.
const (
	NoSubject  = "NoSubject"
	Classified = "Classified"
)

// Build converts metadata into Category:Value keyword pairs. Fuzzy numbers
// are suffixed with "?" and only emitted when enabled.
func Build(meta CarMetadata, fuzzyNumbers bool) []string {
	var out []string

	if meta.Make != "" {
		out = append(out, "Make:"+meta.Make)
	}
	if meta.Model != "" {
		// Model names collapse to one token so 911 GT3 and 911GT3 file
		// under the same keyword.
		model := strings.NewReplacer(" ", "", "-", "").Replace(meta.Model)
		out = append(out, "Model:"+model)
	}
	if meta.Color != "" {
		out = append(out, "Color:"+meta.Color)
	}
	if meta.Class != "" {
		out = append(out, "Class:"+meta.Class)
	}
	if meta.Subcategory != "" {
		out = append(out, "Subcategory:"+meta.Subcategory)
	}
	if meta.Engine != "" {
		out = append(out, "Engine:"+meta.Engine)
	}

	for _, num := range meta.Numbers {
		out = append(out, "Num:"+num)
	}
	if fuzzyNumbers {
		confident := make(map[string]struct{}, len(meta.Numbers))
		for _, num := range meta.Numbers {
			confident[num] = struct{}{}
		}
		for _, num := range meta.FuzzyNumbers {
			if _, ok := confident[num]; !ok {
				out = append(out, "Num:"+num+"?")
			}
		}
	}

	if meta.PeopleDetected {
		out = append(out, "People:People")
	}

	return out
}

// Select decides the final keyword list for a frame: NoSubject when the
// model saw neither a car nor people, the built keywords otherwise.
func Select(meta CarMetadata, fuzzyNumbers bool) []string {
	if !meta.CarDetected && !meta.PeopleDetected {
		return []string{NoSubject}
	}
	return Build(meta, fuzzyNumbers)
}
