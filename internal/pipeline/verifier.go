package pipeline

import (
	"fmt"
	"strings"

	"github.com/veridoc/docintake-worker/internal/patterns"
)

// ClassificationVerifier cross-checks the primary model label against text
// evidence from the oriented page. Verify is a pure function of its inputs:
// no external calls, no randomness, no clock.
type ClassificationVerifier struct {
	tables *patterns.Tables
}

// NewClassificationVerifier builds a verifier over the loaded tables.
func NewClassificationVerifier(tables *patterns.Tables) *ClassificationVerifier {
	return &ClassificationVerifier{tables: tables}
}

// Verify returns the classification to commit and, when the label was
// promoted to a text-validated alternative, the audit event describing why.
// Labels outside the high-ambiguity set are trusted as-is.
func (v *ClassificationVerifier) Verify(primary ClassificationResult, text string) (ClassificationResult, *CorrectionEvent) {
	if !v.tables.HighAmbiguity[primary.Label] || text == "" {
		return primary, nil
	}

	primaryScore, _ := v.evidence(primary.Label, text)

	bestLabel := ""
	bestScore := 0
	var bestMatched []string
	for _, label := range v.tables.TypeLabels() {
		if label == primary.Label {
			continue
		}
		score, matched := v.evidence(label, text)
		tp := v.tables.Types[label]
		if score < tp.MinEvidence || score <= primaryScore {
			continue
		}
		if score > bestScore {
			bestLabel = label
			bestScore = score
			bestMatched = matched
		}
	}

	if bestLabel == "" {
		return primary, nil
	}

	promoted := ClassificationResult{
		Label:      bestLabel,
		Confidence: primary.Confidence,
		Source:     SourceTextValidated,
	}
	event := &CorrectionEvent{
		Stage:     StageClassification,
		FromValue: primary.Label,
		ToValue:   bestLabel,
		Reason: fmt.Sprintf("text evidence %d outweighs primary evidence %d (minimum %d)",
			bestScore, primaryScore, v.tables.Types[bestLabel].MinEvidence),
		Evidence: strings.Join(bestMatched, "; "),
	}
	return promoted, event
}

// evidence counts distinct matched keywords plus distinct matched shapes for
// a label. Repeats of the same keyword or shape count once. A label with no
// pattern table scores zero.
func (v *ClassificationVerifier) evidence(label, text string) (int, []string) {
	tp, ok := v.tables.Types[label]
	if !ok {
		return 0, nil
	}

	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range tp.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, "keyword:"+kw)
		}
	}
	for _, re := range tp.Shapes {
		if re.MatchString(text) {
			matched = append(matched, "shape:"+re.String())
		}
	}
	return len(matched), matched
}
