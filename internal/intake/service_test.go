package intake

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/patterns"
	"github.com/veridoc/docintake-worker/internal/pipeline"
	"github.com/veridoc/docintake-worker/internal/storage"
)

type memStore struct {
	saved    []*pipeline.Document
	updates  []*storage.JobUpdate
	saveErr  error
	statuses map[string]string
}

func (m *memStore) SaveDocument(ctx context.Context, doc *pipeline.Document) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, doc)
	return nil
}

func (m *memStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	m.updates = append(m.updates, update)
	return nil
}

type memHandoff struct {
	submitted []*pipeline.Document
	err       error
}

func (m *memHandoff) Enabled() bool { return true }

func (m *memHandoff) Submit(ctx context.Context, doc *pipeline.Document) error {
	if m.err != nil {
		return m.err
	}
	m.submitted = append(m.submitted, doc)
	return nil
}

type stubEngine struct{ text string }

func (e stubEngine) ID() string { return "stub" }

func (e stubEngine) Run(ctx context.Context, img pipeline.PageImage) (*pipeline.EngineResult, error) {
	return &pipeline.EngineResult{
		Text:       e.text,
		Confidence: 0.9,
		Fields:     []pipeline.ExtractedField{{Name: "passport_number", Value: "X1234567"}},
	}, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, img pipeline.PageImage) (string, float64, error) {
	return "passport", 0.9, nil
}

func pagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	engine := stubEngine{text: "Passport No X1234567 Nationality INDIAN"}
	p, err := pipeline.New(pipeline.Options{
		Source:            imagingSource{},
		TrialEngine:       engine,
		Engines:           []pipeline.Engine{engine},
		Classifier:        stubClassifier{},
		Tables:            patterns.Default(),
		AcceptConfidence:  0.30,
		TrialTimeout:      time.Second,
		EngineTimeout:     time.Second,
		ClassifierTimeout: time.Second,
		Logger:            logging.NewLogger("test", logging.LevelError),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// imagingSource tags rotations without touching pixels; the stub engine
// ignores image content anyway.
type imagingSource struct{}

func (imagingSource) Rotate(img pipeline.PageImage, angle int) (pipeline.PageImage, error) {
	img.Rotation = angle
	return img, nil
}

func (imagingSource) Load(ctx context.Context, ref string) (pipeline.PageImage, error) {
	return pipeline.PageImage{Ref: ref, Format: "png"}, nil
}

func TestProcessDocumentPersistsAndHandsOff(t *testing.T) {
	store := &memStore{}
	handoff := &memHandoff{}
	svc, err := NewService(testPipeline(t), store, handoff, 0, logging.NewLogger("test", logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID: "job-1", SourceRef: "pages/1.png",
	})
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if res.DocumentID == "" {
		t.Fatal("document ID not assigned")
	}
	if res.Label != "passport" {
		t.Fatalf("label = %q", res.Label)
	}
	if len(store.saved) != 1 || !store.saved[0].Finalized {
		t.Fatalf("saved = %+v", store.saved)
	}
	if len(handoff.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(handoff.submitted))
	}
}

func TestProcessDocumentInlineImage(t *testing.T) {
	store := &memStore{}
	svc, err := NewService(testPipeline(t), store, nil, 0, logging.NewLogger("test", logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID: "job-2", DocumentID: "doc-42", SourceRef: "inline.png", ImageData: pagePNG(t),
	})
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if res.DocumentID != "doc-42" {
		t.Fatalf("document ID = %q, want caller-assigned doc-42", res.DocumentID)
	}
}

func TestProcessDocumentUnreadableInlineImageFails(t *testing.T) {
	svc, err := NewService(testPipeline(t), &memStore{}, nil, 0, logging.NewLogger("test", logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID: "job-3", SourceRef: "bad.png", ImageData: []byte("not an image"),
	})
	if err == nil {
		t.Fatal("expected error for undecodable page")
	}
}

func TestProcessDocumentStorageFailureIsFatal(t *testing.T) {
	store := &memStore{saveErr: errors.New("connection refused")}
	handoff := &memHandoff{}
	svc, err := NewService(testPipeline(t), store, handoff, 0, logging.NewLogger("test", logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID: "job-4", SourceRef: "pages/4.png",
	}); err == nil {
		t.Fatal("expected storage failure to fail the job")
	}
	if len(handoff.submitted) != 0 {
		t.Fatal("handoff must not run after a storage failure")
	}
}

func TestProcessDocumentHandoffFailureIsNonFatal(t *testing.T) {
	store := &memStore{}
	handoff := &memHandoff{err: errors.New("downstream busy")}
	svc, err := NewService(testPipeline(t), store, handoff, 0, logging.NewLogger("test", logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID: "job-5", SourceRef: "pages/5.png",
	}); err != nil {
		t.Fatalf("handoff failure must not fail the job: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatal("document must still be persisted")
	}
}

func TestNewServiceValidatesWiring(t *testing.T) {
	if _, err := NewService(nil, &memStore{}, nil, 0, nil); !apperrors.IsFatalConfig(err) {
		t.Fatalf("err = %v, want fatal config error", err)
	}
	if _, err := NewService(testPipeline(t), nil, nil, 0, nil); !apperrors.IsFatalConfig(err) {
		t.Fatalf("err = %v, want fatal config error", err)
	}
}
