package plugin

import (
	"fmt"
	"strings"
)

const (
	minColorTempK = 1500.0
	maxColorTempK = 15000.0
	relativeStepK = 1000.0
	promptMaxLen  = 800
)

// relativeTempVocabulary maps closed-vocabulary descriptions to an absolute
// Kelvin value (for anchors like "daylight") or a signed delta applied to
// the current value (for relative terms like "warmer").
var relativeTempVocabulary = map[string]float64{
	"warm":      3200,
	"warmer":    -relativeStepK,
	"very warm": -2 * relativeStepK,
	"cool":      6500,
	"cooler":    relativeStepK,
	"very cold": 2 * relativeStepK,
	"daylight":  6500,
	"neutral":   4000,
	"sunset":    2000,
	"golden":    2500,
	"noon":      5500,
	"bright":    6000,
}

var relativeTerms = map[string]bool{
	"warmer": true, "very warm": true, "cooler": true, "very cold": true,
}

func clampKelvin(k float64) float64 {
	if k < minColorTempK {
		return minColorTempK
	}
	if k > maxColorTempK {
		return maxColorTempK
	}
	return k
}

// ResolveColorTemperature accepts either a numeric Kelvin value or a
// textual description and returns a clamped Kelvin value. currentK is
// consulted for relative descriptions ("warmer"/"cooler").
func ResolveColorTemperature(value any, currentK float64) (float64, error) {
	switch v := value.(type) {
	case float64:
		return clampKelvin(v), nil
	case int:
		return clampKelvin(float64(v)), nil
	case string:
		desc := strings.ToLower(strings.TrimSpace(v))
		mapped, ok := relativeTempVocabulary[desc]
		if !ok {
			return 0, fmt.Errorf("unrecognized color temperature description: %q", v)
		}
		if relativeTerms[desc] {
			return clampKelvin(currentK + mapped), nil
		}
		return clampKelvin(mapped), nil
	default:
		return 0, fmt.Errorf("color temperature must be a number or description, got %T", value)
	}
}

// ComposePrompt implements the image-transform prompt composition rule:
// Latin-ASCII prompts are concatenated and truncated at 800 chars;
// non-Latin input is left for the caller to route through a translation
// step (translate is invoked when isLatinASCII fails).
func ComposePrompt(mainPrompt string, referencePrompts []string, translate func(string) (string, error)) (string, error) {
	all := make([]string, 0, len(referencePrompts)+1)
	if mainPrompt != "" {
		all = append(all, mainPrompt)
	} else if len(referencePrompts) > 0 {
		all = append(all, "Apply style transformation: "+referencePrompts[0])
		referencePrompts = referencePrompts[1:]
	}
	all = append(all, referencePrompts...)

	combined := strings.Join(all, "; ")
	if isLatinASCII(combined) {
		return truncateAtSeparator(combined, promptMaxLen), nil
	}
	if translate == nil {
		return truncateAtSeparator(combined, promptMaxLen), nil
	}
	translated, err := translate(combined)
	if err != nil {
		return "", fmt.Errorf("translate prompt: %w", err)
	}
	return truncateAtSeparator(translated, promptMaxLen), nil
}

func isLatinASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

func truncateAtSeparator(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexAny(cut, ".;,! "); idx > max/2 {
		cut = cut[:idx]
	}
	return cut
}

// DefaultLightParams fills in the documented defaults for a create_light
// command when the caller omits them.
func DefaultLightParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["location"]; !ok {
		out["location"] = map[string]any{"x": 0.0, "y": 0.0, "z": 100.0}
	}
	if _, ok := out["intensity"]; !ok {
		out["intensity"] = 1000.0
	}
	if _, ok := out["color"]; !ok {
		out["color"] = map[string]any{"r": 1.0, "g": 1.0, "b": 1.0}
	}
	return out
}
