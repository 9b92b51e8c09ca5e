// Shared data structures and collaborator contracts for the decision
// pipeline. Collaborator implementations live outside this package and are
// injected, so the pipeline stays deterministic under scripted fakes.

package pipeline

import (
	"context"
)

// Angles are the candidate rotations, in trial order.
var Angles = [4]int{0, 90, 180, 270}

// PageImage is an immutable page bitmap. Rotation always produces a new
// PageImage; the pixel data of an existing value is never modified.
type PageImage struct {
	Ref      string // source identifier (path, object key, job id)
	Data     []byte // encoded bitmap
	Format   string // "jpeg" or "png"
	Rotation int    // degrees clockwise, one of Angles
}

// OcrAttempt records one (image, engine, rotation) trial. Attempts are kept
// only for comparison and audit.
type OcrAttempt struct {
	EngineID   string  `json:"engineId"`
	Rotation   int     `json:"rotation"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	FieldCount int     `json:"fieldCount"`
}

// Classification sources.
const (
	SourcePrimaryModel  = "primary_model"
	SourceTextValidated = "text_validated"
)

// ClassificationResult is the document-type decision.
type ClassificationResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"modelConfidence"`
	Source     string  `json:"source"`
}

// ExtractedField is one structured value pulled from a document.
type ExtractedField struct {
	Name         string  `json:"name"`
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	SourceEngine string  `json:"sourceEngine"`
}

// CorrectionEvent is an append-only audit record of a pipeline decision that
// changed or rejected an upstream value. Events carry no timestamps so that
// identical inputs reproduce bit-identical Documents.
type CorrectionEvent struct {
	Stage     string `json:"stage"`
	FromValue string `json:"from"`
	ToValue   string `json:"to"`
	Reason    string `json:"reason"`
	Evidence  string `json:"evidence"`
}

// Pipeline stages, used in CorrectionEvent.Stage.
const (
	StageOrientation    = "orientation"
	StageClassification = "classification"
	StageOCR            = "ocr"
	StageValidation     = "field_validation"
)

// Document aggregates the final state of one processed page. A Document
// progresses strictly orientation -> classification -> OCR -> validation and
// is never re-entered once finalized.
type Document struct {
	ID             string               `json:"id"`
	SourceRef      string               `json:"sourceRef"`
	Image          PageImage            `json:"-"`
	Rotation       int                  `json:"rotation"`
	Classification ClassificationResult `json:"classification"`
	ChosenAttempt  OcrAttempt           `json:"chosenAttempt"`
	Attempts       []OcrAttempt         `json:"attempts"`
	Fields         []ExtractedField     `json:"fields"`
	Corrections    []CorrectionEvent    `json:"corrections"`

	OrientationUndetermined bool `json:"orientationUndetermined"`
	OCRFailed               bool `json:"ocrFailed"`
	Degraded                bool `json:"degraded"`
	Finalized               bool `json:"finalized"`
}

// addCorrection appends an audit event. The list is append-only.
func (d *Document) addCorrection(ev CorrectionEvent) {
	d.Corrections = append(d.Corrections, ev)
}

// NoConfidence marks an engine result without a native confidence score; the
// resolver derives a deterministic proxy instead.
const NoConfidence = -1.0

// EngineResult is the raw outcome of one OCR engine invocation.
type EngineResult struct {
	Text       string
	Confidence float64 // in [0,1], or NoConfidence when the engine has no native score
	Fields     []ExtractedField
}

// Engine is a ranked OCR backend capability. Run may return an error to
// signal transient failure; the caller decides retry and fallback.
type Engine interface {
	ID() string
	Run(ctx context.Context, img PageImage) (*EngineResult, error)
}

// Rotator produces a new PageImage at the requested absolute rotation. Must
// be pure: same input image and angle, same output.
type Rotator interface {
	Rotate(img PageImage, angle int) (PageImage, error)
}

// ImageSource loads page images and rotates them.
type ImageSource interface {
	Rotator
	Load(ctx context.Context, ref string) (PageImage, error)
}

// Classifier is the primary ML document-type classifier.
type Classifier interface {
	Classify(ctx context.Context, img PageImage) (label string, confidence float64, err error)
}
