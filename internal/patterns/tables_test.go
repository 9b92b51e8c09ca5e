package patterns

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
)

func TestDefaultTablesCompile(t *testing.T) {
	tables := Default()

	for _, label := range []string{"passport", "emirates_id", "certificate", "certificate_attestation"} {
		if _, ok := tables.Types[label]; !ok {
			t.Errorf("missing built-in type %q", label)
		}
	}
	for _, label := range []string{"certificate", "emirates_id", "unknown"} {
		if !tables.HighAmbiguity[label] {
			t.Errorf("%q missing from high-ambiguity set", label)
		}
	}
	if _, ok := tables.Fields["attestation_number_1"]; !ok {
		t.Error("missing built-in field rule attestation_number_1")
	}
	if tables.Types["emirates_id"].MinEvidence != 2 {
		t.Errorf("emirates_id min evidence = %d, want 2", tables.Types["emirates_id"].MinEvidence)
	}
}

func TestTypeLabelsSorted(t *testing.T) {
	labels := Default().TypeLabels()
	for i := 1; i < len(labels); i++ {
		if labels[i-1] >= labels[i] {
			t.Fatalf("labels not sorted: %v", labels)
		}
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	tables, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tables.Types) != len(Default().Types) {
		t.Fatalf("empty path should yield the built-in tables")
	}
}

func writeTableFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tables.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeTableFile(t, `
high_ambiguity: [license]
types:
  license:
    keywords: [driving, license]
    shapes: ['\b[A-Z]{2}\d{6}\b']
    min_evidence: 2
fields:
  license_number:
    shape: '\b[A-Z]{2}\d{6}\b'
    reserved: ['\b784\d{11,12}\b']
`)

	tables, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tp, ok := tables.Types["license"]
	if !ok || tp.MinEvidence != 2 || len(tp.Shapes) != 1 {
		t.Fatalf("types = %+v", tables.Types)
	}
	if !tables.HighAmbiguity["license"] {
		t.Fatal("high-ambiguity set not loaded")
	}
	rule, ok := tables.Fields["license_number"]
	if !ok || len(rule.Reserved) != 1 {
		t.Fatalf("fields = %+v", tables.Fields)
	}
	if !rule.Shape.MatchString("AB123456") {
		t.Fatal("loaded shape does not match its own example")
	}
}

func TestLoadFailuresAreFatalConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "types: [not: a map"},
		{"no types", "fields:\n  x:\n    shape: '\\d+'\n"},
		{"invalid shape", "types:\n  a:\n    keywords: [k]\n    shapes: ['[unterminated']\n    min_evidence: 1\n"},
		{"min evidence zero", "types:\n  a:\n    keywords: [k]\n    min_evidence: 0\n"},
		{"empty type", "types:\n  a:\n    min_evidence: 1\n"},
		{"field without shape", "types:\n  a:\n    keywords: [k]\n    min_evidence: 1\nfields:\n  x: {}\n"},
		{"invalid reserved", "types:\n  a:\n    keywords: [k]\n    min_evidence: 1\nfields:\n  x:\n    shape: '\\d+'\n    reserved: ['[bad']\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTableFile(t, tc.content)); !apperrors.IsFatalConfig(err) {
				t.Fatalf("err = %v, want fatal config error", err)
			}
		})
	}
}

func TestLoadMissingFileIsFatalConfig(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !apperrors.IsFatalConfig(err) {
		t.Fatalf("err = %v, want fatal config error", err)
	}
}
