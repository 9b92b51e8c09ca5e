// Keyword and shape tables driving classification verification and field
// validation. Loaded once at startup; a malformed table file is fatal.

package patterns

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
)

// TypePattern holds the text evidence table for one document type.
type TypePattern struct {
	Keywords    []string
	Shapes      []*regexp.Regexp
	MinEvidence int
}

// FieldRule declares the canonical shape of a validated field and the shapes
// reserved for other field types that disqualify a candidate value.
type FieldRule struct {
	Shape    *regexp.Regexp
	Reserved []*regexp.Regexp
}

// Tables is the full read-only pattern configuration.
type Tables struct {
	HighAmbiguity map[string]bool
	Types         map[string]TypePattern
	Fields        map[string]FieldRule
}

// TypeLabels returns the configured document type labels in sorted order, so
// iteration over candidates is deterministic.
func (t *Tables) TypeLabels() []string {
	labels := make([]string, 0, len(t.Types))
	for label := range t.Types {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// fileSpec mirrors the YAML table file layout.
type fileSpec struct {
	HighAmbiguity []string                `yaml:"high_ambiguity"`
	Types         map[string]typeSpec     `yaml:"types"`
	Fields        map[string]fieldSpec    `yaml:"fields"`
}

type typeSpec struct {
	Keywords    []string `yaml:"keywords"`
	Shapes      []string `yaml:"shapes"`
	MinEvidence int      `yaml:"min_evidence"`
}

type fieldSpec struct {
	Shape    string   `yaml:"shape"`
	Reserved []string `yaml:"reserved"`
}

// Load reads pattern tables from a YAML file, or returns the built-in
// defaults when path is empty. Any parse or compile failure is a fatal
// configuration error.
func Load(path string) (*Tables, error) {
	if path == "" {
		return compile(defaultSpec())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewFatalConfigError(fmt.Sprintf("pattern tables file %s unreadable", path), err)
	}

	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, apperrors.NewFatalConfigError(fmt.Sprintf("pattern tables file %s malformed", path), err)
	}

	return compile(&spec)
}

func compile(spec *fileSpec) (*Tables, error) {
	if len(spec.Types) == 0 {
		return nil, apperrors.NewFatalConfigError("pattern tables declare no document types", nil)
	}

	tables := &Tables{
		HighAmbiguity: make(map[string]bool, len(spec.HighAmbiguity)),
		Types:         make(map[string]TypePattern, len(spec.Types)),
		Fields:        make(map[string]FieldRule, len(spec.Fields)),
	}

	for _, label := range spec.HighAmbiguity {
		tables.HighAmbiguity[label] = true
	}

	for label, ts := range spec.Types {
		if ts.MinEvidence < 1 {
			return nil, apperrors.NewFatalConfigError(
				fmt.Sprintf("type %s: min_evidence must be at least 1, got %d", label, ts.MinEvidence), nil)
		}
		if len(ts.Keywords) == 0 && len(ts.Shapes) == 0 {
			return nil, apperrors.NewFatalConfigError(
				fmt.Sprintf("type %s declares neither keywords nor shapes", label), nil)
		}
		shapes := make([]*regexp.Regexp, 0, len(ts.Shapes))
		for _, expr := range ts.Shapes {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, apperrors.NewFatalConfigError(
					fmt.Sprintf("type %s: invalid shape %q", label, expr), err)
			}
			shapes = append(shapes, re)
		}
		tables.Types[label] = TypePattern{
			Keywords:    ts.Keywords,
			Shapes:      shapes,
			MinEvidence: ts.MinEvidence,
		}
	}

	for name, fs := range spec.Fields {
		if fs.Shape == "" {
			return nil, apperrors.NewFatalConfigError(
				fmt.Sprintf("field %s declares no shape", name), nil)
		}
		shape, err := regexp.Compile(fs.Shape)
		if err != nil {
			return nil, apperrors.NewFatalConfigError(
				fmt.Sprintf("field %s: invalid shape %q", name, fs.Shape), err)
		}
		reserved := make([]*regexp.Regexp, 0, len(fs.Reserved))
		for _, expr := range fs.Reserved {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, apperrors.NewFatalConfigError(
					fmt.Sprintf("field %s: invalid reserved shape %q", name, expr), err)
			}
			reserved = append(reserved, re)
		}
		tables.Fields[name] = FieldRule{Shape: shape, Reserved: reserved}
	}

	return tables, nil
}

// Default returns the compiled built-in tables. Panics only if the built-in
// spec itself is broken, which is a programming error.
func Default() *Tables {
	t, err := compile(defaultSpec())
	if err != nil {
		panic(err)
	}
	return t
}

// defaultSpec carries the tuned tables for the document types this worker
// was built around. The evidence minimums are operational defaults and
// should be re-validated against a labeled corpus before retuning.
func defaultSpec() *fileSpec {
	return &fileSpec{
		HighAmbiguity: []string{"certificate", "emirates_id", "unknown"},
		Types: map[string]typeSpec{
			"passport": {
				Keywords: []string{
					"passport", "جواز سفر", "pasaport", "паспорт", "पासपोर्ट",
					"passport no", "passport number", "رقم الجواز",
					"date of birth", "place of birth", "nationality",
					"given name", "surname", "family name",
					"date of issue", "place of issue", "authority",
					"expiry date", "valid until", "expires",
					"republic of", "ministry of", "government of",
					"machine readable", "mrz", "icao",
				},
				Shapes: []string{
					`\b[A-Z]\d{8}\b`,
					`\b[A-Z]{2}\d{7}\b`,
					`\b\d{9}\b`,
					`\b[A-Z]\d{7}\b`,
				},
				MinEvidence: 3,
			},
			"emirates_id": {
				Keywords: []string{
					"emirates id", "هوية الإمارات", "identity card", "بطاقة الهوية",
					"id number", "رقم الهوية", "identity number",
					"united arab emirates", "الإمارات العربية المتحدة",
					"federal authority", "الهيئة الاتحادية",
					"identity and citizenship", "الهوية والجنسية",
				},
				Shapes: []string{
					`\b784-\d{4}-\d{7}-\d\b`,
				},
				MinEvidence: 2,
			},
			"certificate": {
				Keywords: []string{
					"certificate", "شهادة", "degree", "diploma", "bachelor", "master", "phd",
					"engineering", "technology", "university", "college", "institute",
					"graduation", "academic", "education", "qualification",
					"this is to certify", "certify that", "has successfully completed",
					"awarded", "conferred", "degree of", "in the field of",
				},
				Shapes: []string{
					`\b\d{10,15}\b`,
					`(?i)\bcertificate\s+no[.:]\s*\d+\b`,
					`(?i)\breg[.:]\s*no[.:]\s*\d+\b`,
				},
				MinEvidence: 3,
			},
			"certificate_attestation": {
				Keywords: []string{
					"attestation", "تصديق", "attested", "attest", "attesting",
					"ministry of foreign affairs", "وزارة الخارجية",
					"ministry of education", "وزارة التربية والتعليم",
					"embassy", "سفارة", "consulate", "قنصلية",
					"apostille", "legalization", "authenticate", "authentication", "مصادقة",
					"stamp", "ختم", "seal", "certified", "certification",
					"notary", "كاتب العدل", "foreign affairs", "mofa",
				},
				Shapes: []string{
					`(?i)\battestation\s+no[.:]\s*\d+\b`,
					`\b\d{10,15}\b`,
					`(?i)\bstamp\s+no[.:]\s*\d+\b`,
				},
				MinEvidence: 3,
			},
		},
		Fields: map[string]fieldSpec{
			// Attestation numbers must never swallow an Emirates ID; the
			// 784 prefix is reserved for the national ID shape.
			"attestation_number_1": {
				Shape:    `\b\d{10,15}\b`,
				Reserved: []string{`\b784\d{11,12}\b`, `\b784-\d{4}-\d{7}-\d\b`},
			},
			"attestation_number_2": {
				Shape:    `\b\d{6,7}\b`,
				Reserved: []string{`\b784\d{4}\b`},
			},
			"passport_number": {
				Shape: `\b[A-Z]{1,2}\d{7,8}\b`,
			},
			"emirates_id_number": {
				Shape: `\b784-?\d{4}-?\d{7}-?\d\b`,
			},
		},
	}
}
