package structuring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

func testDoc() *pipeline.Document {
	return &pipeline.Document{
		ID:        "doc-1",
		SourceRef: "page.jpg",
		Rotation:  90,
		Classification: pipeline.ClassificationResult{
			Label: "passport", Confidence: 0.9, Source: pipeline.SourceTextValidated,
		},
		ChosenAttempt: pipeline.OcrAttempt{EngineID: "docai", Text: "Passport No X1234567"},
		Fields:        []pipeline.ExtractedField{{Name: "passport_number", Value: "X1234567"}},
		Finalized:     true,
	}
}

func TestSubmitPostsDocument(t *testing.T) {
	var got ingestRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents/ingest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, logging.NewLogger("test", logging.LevelError))
	if err := c.Submit(context.Background(), testDoc()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.DocumentID != "doc-1" || got.Text != "Passport No X1234567" || len(got.Fields) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if got.Classification.Label != "passport" {
		t.Fatalf("classification = %+v", got.Classification)
	}
}

func TestSubmitErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, logging.NewLogger("test", logging.LevelError))
	if err := c.Submit(context.Background(), testDoc()); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSubmitDisabledIsNoop(t *testing.T) {
	c := New("", 5*time.Second, logging.NewLogger("test", logging.LevelError))
	if c.Enabled() {
		t.Fatal("empty base URL must disable the handoff")
	}
	if err := c.Submit(context.Background(), testDoc()); err != nil {
		t.Fatalf("Submit on disabled client: %v", err)
	}
}
