package engines

import (
	"sort"
	"strings"
)

// estimateTextConfidence scores transcription quality for engines without a
// native confidence. Longer output, more words, and a plausible alphabetic
// ratio each add to a 0.5 base, capped at 0.85 so estimated scores never
// outrank a native one.
func estimateTextConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	confidence := 0.5

	if len(text) > 200 {
		confidence += 0.1
	}
	if len(text) > 1000 {
		confidence += 0.1
	}

	if len(strings.Fields(text)) > 40 {
		confidence += 0.1
	}

	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	alphaRatio := float64(alphaCount) / float64(len(text))
	if alphaRatio > 0.5 && alphaRatio < 0.9 {
		confidence += 0.1
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	return confidence
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
