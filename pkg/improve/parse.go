package improve

import (
	"regexp"
	"strings"
)

// ImprovementResult holds the parsed output of one improvement response.
// Variants never exceeds the requested bound and contains no empty strings.
type ImprovementResult struct {
	Improved  string   `json:"improved,omitempty"`
	Variants  []string `json:"variants"`
	BoundedTo int      `json:"bounded_to"`
}

// variantPatterns match one variant line: "1. text", "2) text", "- text",
// "* text".
var variantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+[.)]\s*(.+)$`),
	regexp.MustCompile(`^-\s*(.+)$`),
	regexp.MustCompile(`^\*\s*(.+)$`),
}

// ExtractImproved pulls the improved prompt out of a free-form model answer.
// It never fails outward: the fallback tiers degrade down to returning the
// original prompt unchanged.
//
// Tiers, in order: marker scan, first substantial non-bullet line, the whole
// trimmed response if it differs from the original, the original itself.
func ExtractImproved(response, original string) string {
	text := strings.TrimSpace(response)

	if improved, ok := tryImprovedMarker(text); ok {
		return improved
	}
	if line, ok := tryFirstSubstantialLine(text); ok {
		return line
	}
	if text != original && len(text) > 10 {
		return text
	}
	return original
}

// tryImprovedMarker takes everything after the first improved-section marker,
// truncated at the variants marker when both sections share the response.
func tryImprovedMarker(text string) (string, bool) {
	for _, marker := range improvedMarkers {
		_, rest, found := strings.Cut(text, marker)
		if !found {
			continue
		}

		improved := strings.TrimSpace(rest)
		for _, vm := range variantMarkers {
			if head, _, cut := strings.Cut(improved, vm); cut {
				improved = strings.TrimSpace(head)
				break
			}
		}
		if improved != "" {
			return improved, true
		}
	}
	return "", false
}

// tryFirstSubstantialLine returns the first non-empty line longer than 20
// characters that is not a list bullet.
func tryFirstSubstantialLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 20 && !isBulletLine(line) {
			return line, true
		}
	}
	return "", false
}

func isBulletLine(line string) bool {
	for _, prefix := range []string{"1.", "2.", "3.", "-", "*"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// ExtractVariants pulls up to bound variant prompts out of a free-form model
// answer. It parses the section after a variants marker when present, the
// whole text otherwise, and falls back to collecting any sufficiently long
// non-marker line when the patterns find fewer than bound variants. The
// result is clamped to bound and contains no empty strings.
//
// Inside an explicit marker section every non-empty capture counts; when
// scanning unmarked text, captures must exceed 5 characters to filter junk.
func ExtractVariants(response string, bound int) []string {
	if bound <= 0 {
		return nil
	}

	section := strings.TrimSpace(response)
	minLen := 5
	if rest, found := cutVariantSection(section); found {
		section = rest
		minLen = 0
	}
	return variantLines(section, bound, minLen)
}

// cutVariantSection returns the text after the first variants marker.
func cutVariantSection(text string) (string, bool) {
	for _, vm := range variantMarkers {
		if _, rest, found := strings.Cut(text, vm); found {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func variantLines(section string, bound, minLen int) []string {
	lines := strings.Split(section, "\n")
	var variants []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pattern := range variantPatterns {
			m := pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if text := strings.TrimSpace(m[1]); text != "" && len(text) > minLen {
				variants = append(variants, text)
			}
			break
		}
	}

	// Not enough pattern matches: collect any line that plausibly is a
	// variant on its own.
	if len(variants) < bound {
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if len(line) > 10 && !isMarkerLine(line) && !contains(variants, line) {
				variants = append(variants, line)
			}
		}
	}

	if len(variants) > bound {
		variants = variants[:bound]
	}
	return variants
}

func isMarkerLine(line string) bool {
	for _, prefix := range []string{"IMPROVED", "Improved", "VARIANTS", "Variants"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParseCombined parses a response meant to contain both sections. Improved
// falls back through ExtractImproved's tiers; Variants come from the marked
// section when present, otherwise from whole-text extraction with the junk
// guard, so a model that ignores the format still yields variants.
func ParseCombined(response, original string, bound int) ImprovementResult {
	text := strings.TrimSpace(response)

	result := ImprovementResult{
		Improved:  ExtractImproved(text, original),
		BoundedTo: bound,
	}
	if bound <= 0 {
		return result
	}

	if section, found := cutVariantSection(text); found {
		result.Variants = variantLines(section, bound, 0)
	} else {
		result.Variants = ExtractVariants(text, bound)
	}
	return result
}
