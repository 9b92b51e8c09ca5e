package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newSelector(engines ...Engine) *EngineSelector {
	return NewEngineSelector(engines, 0.30, time.Second, testLogger())
}

func acceptableResult() map[int]EngineResult {
	return map[int]EngineResult{
		0: {
			Text:       "Attestation No 201400642961",
			Confidence: 0.92,
			Fields:     []ExtractedField{{Name: "attestation_number_1", Value: "201400642961"}},
		},
	}
}

func TestSelectShortCircuitsOnAcceptance(t *testing.T) {
	first := &scriptedEngine{id: "docai", results: acceptableResult()}
	second := &scriptedEngine{id: "vision", results: acceptableResult()}

	sel, err := newSelector(first, second).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Chosen.EngineID != "docai" {
		t.Fatalf("chosen engine = %q, want docai", sel.Chosen.EngineID)
	}
	if second.callCount() != 0 {
		t.Fatalf("lower-rank engine invoked %d times after acceptance", second.callCount())
	}
	if len(sel.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(sel.Attempts))
	}
}

func TestSelectFallsThroughLowConfidence(t *testing.T) {
	first := &scriptedEngine{id: "docai", results: map[int]EngineResult{
		0: {Text: "noise", Confidence: 0.10, Fields: []ExtractedField{{Name: "x", Value: "1"}}},
	}}
	second := &scriptedEngine{id: "vision", results: acceptableResult()}

	sel, err := newSelector(first, second).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Chosen.EngineID != "vision" {
		t.Fatalf("chosen engine = %q, want vision", sel.Chosen.EngineID)
	}
	if len(sel.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(sel.Attempts))
	}
}

func TestSelectRequiresAtLeastOneField(t *testing.T) {
	// Confident but fieldless: not acceptable, but still the best attempt
	// when nothing else qualifies.
	first := &scriptedEngine{id: "docai", results: map[int]EngineResult{
		0: {Text: "plenty of readable text", Confidence: 0.95},
	}}
	second := &scriptedEngine{id: "tesseract", results: map[int]EngineResult{
		0: {Text: "less", Confidence: 0.40},
	}}

	sel, err := newSelector(first, second).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Chosen.EngineID != "docai" {
		t.Fatalf("chosen engine = %q, want docai (highest confidence)", sel.Chosen.EngineID)
	}
	if second.callCount() == 0 {
		t.Fatal("second engine should have been attempted, first was not acceptable")
	}
}

func TestSelectTiePrefersMostPreferredEngine(t *testing.T) {
	first := &scriptedEngine{id: "docai", results: map[int]EngineResult{
		0: {Text: "a", Confidence: 0.20},
	}}
	second := &scriptedEngine{id: "vision", results: map[int]EngineResult{
		0: {Text: "b", Confidence: 0.20},
	}}

	sel, err := newSelector(first, second).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Chosen.EngineID != "docai" {
		t.Fatalf("chosen engine = %q, want docai on tie", sel.Chosen.EngineID)
	}
}

func TestSelectRetriesTransientFailureOnce(t *testing.T) {
	flaky := &scriptedEngine{id: "docai", errs: map[int]error{0: errors.New("connection reset")}}
	backup := &scriptedEngine{id: "vision", results: acceptableResult()}

	sel, err := newSelector(flaky, backup).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if flaky.callCount() != 2 {
		t.Fatalf("flaky engine called %d times, want 2 (one retry)", flaky.callCount())
	}
	if sel.Chosen.EngineID != "vision" {
		t.Fatalf("chosen engine = %q, want vision", sel.Chosen.EngineID)
	}
	// The failed engine still shows up in the audit record.
	if len(sel.Attempts) != 2 || sel.Attempts[0].EngineID != "docai" || sel.Attempts[0].Confidence != 0 {
		t.Fatalf("failed attempt not audited: %+v", sel.Attempts)
	}
}

func TestSelectAllEnginesFailedIsExhausted(t *testing.T) {
	err1 := &scriptedEngine{id: "docai", errs: map[int]error{0: errors.New("timeout")}}
	err2 := &scriptedEngine{id: "vision", errs: map[int]error{0: errors.New("timeout")}}
	err3 := &scriptedEngine{id: "tesseract", errs: map[int]error{0: errors.New("timeout")}}

	sel, err := newSelector(err1, err2, err3).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !sel.Exhausted {
		t.Fatal("expected exhausted selection")
	}
	if len(sel.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(sel.Attempts))
	}
}

func TestSelectDerivesProxyForScorelessEngine(t *testing.T) {
	// 30+ alphabetic tokens of average length >= 4 push the proxy past the
	// acceptance threshold once scaled to [0,1].
	text := repeatWords("readable", 30)
	scoreless := &scriptedEngine{id: "tesseract", results: map[int]EngineResult{
		0: {Text: text, Confidence: NoConfidence, Fields: []ExtractedField{{Name: "x", Value: "1"}}},
	}}

	sel, err := newSelector(scoreless).Select(context.Background(), PageImage{Ref: "p1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Chosen.EngineID != "tesseract" {
		t.Fatalf("chosen engine = %q, want tesseract", sel.Chosen.EngineID)
	}
	if sel.Chosen.Confidence < 0.30 {
		t.Fatalf("proxy confidence %v below threshold", sel.Chosen.Confidence)
	}
}
