package pipeline

import (
	"fmt"
	"strings"

	"github.com/veridoc/docintake-worker/internal/patterns"
)

// UnknownValue replaces a field value that could not be supported by the
// source text.
const UnknownValue = "unknown"

// FieldValidator cross-checks extracted values against the raw OCR text that
// produced them. It only accepts, substitutes, or nulls; it never invents a
// value absent from the source text.
type FieldValidator struct {
	tables *patterns.Tables
}

// NewFieldValidator builds a validator over the loaded field rules.
func NewFieldValidator(tables *patterns.Tables) *FieldValidator {
	return &FieldValidator{tables: tables}
}

// Validate checks each field with a declared canonical shape; fields without
// one pass through unchanged. Returned events document every substitution
// and rejection.
func (v *FieldValidator) Validate(fields []ExtractedField, ocrText string) ([]ExtractedField, []CorrectionEvent) {
	normText := normalizeText(ocrText)

	out := make([]ExtractedField, 0, len(fields))
	var events []CorrectionEvent

	for _, f := range fields {
		rule, ok := v.tables.Fields[f.Name]
		if !ok {
			out = append(out, f)
			continue
		}

		value := normalizeValue(f.Value)

		// A value carrying a shape reserved for a different field type is
		// never accepted, even verbatim. A national-ID run must not leak
		// into an attestation number.
		if value != "" && matchesReserved(rule, value) {
			events = append(events, CorrectionEvent{
				Stage:     StageValidation,
				FromValue: f.Value,
				ToValue:   UnknownValue,
				Reason:    fmt.Sprintf("field %s: value matches a shape reserved for another field type", f.Name),
				Evidence:  value,
			})
			f.Value = UnknownValue
			out = append(out, f)
			continue
		}

		if value != "" && strings.Contains(normText, value) {
			f.Value = value
			out = append(out, f)
			continue
		}

		// Not verbatim: fall back to a shape match in the source text.
		candidates := shapeCandidates(rule, normText)
		switch len(candidates) {
		case 1:
			events = append(events, CorrectionEvent{
				Stage:     StageValidation,
				FromValue: f.Value,
				ToValue:   candidates[0],
				Reason:    fmt.Sprintf("field %s: value absent from source text, substituted sole shape match", f.Name),
				Evidence:  candidates[0],
			})
			f.Value = candidates[0]
		case 0:
			events = append(events, CorrectionEvent{
				Stage:     StageValidation,
				FromValue: f.Value,
				ToValue:   UnknownValue,
				Reason:    fmt.Sprintf("field %s: no supportable value found in source text", f.Name),
			})
			f.Value = UnknownValue
		default:
			events = append(events, CorrectionEvent{
				Stage:     StageValidation,
				FromValue: f.Value,
				ToValue:   UnknownValue,
				Reason:    fmt.Sprintf("field %s: %d distinct shape matches, ambiguous", f.Name, len(candidates)),
				Evidence:  strings.Join(candidates, ", "),
			})
			f.Value = UnknownValue
		}
		out = append(out, f)
	}

	return out, events
}

func matchesReserved(rule patterns.FieldRule, value string) bool {
	for _, re := range rule.Reserved {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// shapeCandidates returns the distinct substrings of text matching the
// field's shape, excluding any that carry a reserved shape, in first-seen
// order.
func shapeCandidates(rule patterns.FieldRule, text string) []string {
	seen := make(map[string]bool)
	var candidates []string
	for _, m := range rule.Shape.FindAllString(text, -1) {
		if seen[m] || matchesReserved(rule, m) {
			continue
		}
		seen[m] = true
		candidates = append(candidates, m)
	}
	return candidates
}

// arabicDigits maps Arabic-Indic numerals onto their Western counterparts.
// Attestation stamps frequently mix both scripts.
var arabicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// normalizeText folds Arabic numerals to Western and collapses whitespace
// runs to single spaces.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(arabicDigits.Replace(text)), " ")
}

// normalizeValue trims a candidate value, folds its digits, and strips
// leading zeros from all-digit values, a common OCR artifact on stamped
// numbers.
func normalizeValue(value string) string {
	v := strings.TrimSpace(arabicDigits.Replace(value))
	if v == "" || strings.EqualFold(v, "null") {
		return ""
	}
	if isDigits(v) {
		trimmed := strings.TrimLeft(v, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		return trimmed
	}
	return v
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
