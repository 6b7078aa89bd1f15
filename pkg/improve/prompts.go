// Package improve implements the prompt-improvement workflow: building the
// marker-structured instructions sent to a model and parsing the free-form
// answer back into an improved prompt plus a bounded list of variants.
package improve

import (
	"fmt"
	"strings"
)

// Markers the instructions ask the model to echo back. Only their presence is
// load-bearing; the parser falls back gracefully when the model ignores them.
const (
	markerImproved = "IMPROVED VERSION:"
	markerVariants = "VARIANTS:"
)

// improvedMarkers are the accepted spellings of the improved-section marker,
// checked in order.
var improvedMarkers = []string{
	"IMPROVED VERSION:",
	"Improved version:",
	"Improved prompt:",
	"Revised prompt:",
	"Improved:",
}

// variantMarkers are the accepted spellings of the variants-section marker.
var variantMarkers = []string{
	"VARIANTS:",
	"Variants:",
}

// Hint steers an improvement toward a task category.
type Hint string

const (
	HintGeneral  Hint = "general"
	HintCode     Hint = "code"
	HintAnalysis Hint = "analysis"
	HintCreative Hint = "creative"
)

// ParseHint maps a string to a Hint; anything unrecognized is general.
func ParseHint(s string) Hint {
	switch Hint(strings.ToLower(strings.TrimSpace(s))) {
	case HintCode:
		return HintCode
	case HintAnalysis:
		return HintAnalysis
	case HintCreative:
		return HintCreative
	default:
		return HintGeneral
	}
}

func (h Hint) description() string {
	switch h {
	case HintCode:
		return "for working with code, programming and technical tasks"
	case HintAnalysis:
		return "for analytical tasks, data analysis and logical reasoning"
	case HintCreative:
		return "for creative tasks, idea generation and creative content"
	default:
		return "for general use"
	}
}

// ImprovementPrompt builds the instruction asking a model to rewrite the
// original prompt.
func ImprovementPrompt(original string) string {
	return fmt.Sprintf(`Improve the following prompt, making it clearer, more specific and more effective.
Keep the prompt's core intent and goal, but refine the wording so an AI model understands it better.

Original prompt:
%s

Return only the improved version of the prompt, with no extra explanation.`, original)
}

// VariantsPrompt builds the instruction asking for n alternative phrasings,
// numbered one per line.
func VariantsPrompt(original string, n int) string {
	return fmt.Sprintf(`Create %d alternative variants of the following prompt, rephrasing it in different ways while keeping its core intent.

Original prompt:
%s

Return the %d variants, one per line, numbered like:
1. [first variant]
2. [second variant]
3. [third variant] (if needed)

Only the variants, with no extra explanation.`, n, original, n)
}

// AdaptationPrompt builds the instruction asking to adapt the prompt for a
// task category.
func AdaptationPrompt(original string, h Hint) string {
	return fmt.Sprintf(`Adapt the following prompt %s.
Keep the core intent, but optimize the wording for that kind of task.

Original prompt:
%s

Return only the adapted version of the prompt, with no extra explanation.`, h.description(), original)
}

// CombinedPrompt builds the single instruction that requests both the
// improved version and 2-3 variants, delimited by the section markers the
// parser looks for.
func CombinedPrompt(original string, h Hint) string {
	action := "Improve the following prompt"
	if h != "" && h != HintGeneral {
		action = fmt.Sprintf("Adapt the following prompt %s", h.description())
	}

	return fmt.Sprintf(`%s and create 2-3 alternative variants rephrasing it.

Original prompt:
%s

Return the answer in exactly this format:
%s
[improved version of the prompt]

%s
1. [first variant]
2. [second variant]
3. [third variant]`, action, original, markerImproved, markerVariants)
}
