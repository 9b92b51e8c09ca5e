// Pipeline sequences the per-document decisions: orientation, classification
// verification, engine selection, field validation. Collaborators are
// injected capabilities so a run against scripted fakes is bit-for-bit
// reproducible.

package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/patterns"
)

// Options wires the pipeline's collaborators and tuning.
type Options struct {
	Source      ImageSource
	TrialEngine Engine   // engine used for orientation trials
	Engines     []Engine // ranked, most capable first
	Classifier  Classifier
	Tables      *patterns.Tables

	AcceptConfidence  float64
	TrialTimeout      time.Duration
	EngineTimeout     time.Duration
	ClassifierTimeout time.Duration

	Logger *logging.Logger
}

// Pipeline processes documents one page at a time. Instances are safe for
// concurrent use; all per-document state lives in the Document.
type Pipeline struct {
	source            ImageSource
	classifier        Classifier
	resolver          *OrientationResolver
	verifier          *ClassificationVerifier
	selector          *EngineSelector
	validator         *FieldValidator
	classifierTimeout time.Duration
	log               *logging.Logger
}

// New validates the wiring and builds a pipeline. Missing pattern tables or
// an empty engine list is a fatal configuration error.
func New(opts Options) (*Pipeline, error) {
	if opts.Tables == nil {
		return nil, apperrors.NewFatalConfigError("pattern tables are required", nil)
	}
	if len(opts.Engines) == 0 {
		return nil, apperrors.NewFatalConfigError("at least one ranked OCR engine is required", nil)
	}
	if opts.TrialEngine == nil {
		return nil, apperrors.NewFatalConfigError("an orientation trial engine is required", nil)
	}
	if opts.Source == nil {
		return nil, apperrors.NewFatalConfigError("an image source is required", nil)
	}
	if opts.Classifier == nil {
		return nil, apperrors.NewFatalConfigError("a primary classifier is required", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("pipeline", logging.LevelInfo)
	}

	return &Pipeline{
		source:            opts.Source,
		classifier:        opts.Classifier,
		resolver:          NewOrientationResolver(opts.TrialEngine, opts.Source, opts.TrialTimeout, opts.Logger.WithPrefix("orientation")),
		verifier:          NewClassificationVerifier(opts.Tables),
		selector:          NewEngineSelector(opts.Engines, opts.AcceptConfidence, opts.EngineTimeout, opts.Logger.WithPrefix("selector")),
		validator:         NewFieldValidator(opts.Tables),
		classifierTimeout: opts.ClassifierTimeout,
		log:               opts.Logger,
	}, nil
}

// Process loads the page behind ref and runs it through the pipeline.
func (p *Pipeline) Process(ctx context.Context, id, ref string) (*Document, error) {
	img, err := p.source.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	return p.ProcessImage(ctx, id, img)
}

// ProcessImage runs one already-loaded page through orientation,
// classification, OCR selection and field validation. Non-fatal trouble
// degrades the Document instead of failing it; cancellation discards the
// partial Document entirely.
func (p *Pipeline) ProcessImage(ctx context.Context, id string, img PageImage) (*Document, error) {
	doc := &Document{
		ID:        id,
		SourceRef: img.Ref,
	}

	// Stage 1: orientation.
	res, err := p.resolver.Resolve(ctx, img)
	if err != nil {
		return nil, err
	}
	doc.Image = res.Image
	doc.Rotation = res.Image.Rotation
	doc.Attempts = append(doc.Attempts, res.Attempts...)
	if res.Undetermined {
		doc.OrientationUndetermined = true
		doc.Degraded = true
		doc.addCorrection(CorrectionEvent{
			Stage:     StageOrientation,
			FromValue: "",
			ToValue:   "0",
			Reason:    "all orientation trials returned empty text, keeping angle 0",
		})
	} else if res.Winner.Rotation != 0 {
		doc.addCorrection(CorrectionEvent{
			Stage:     StageOrientation,
			FromValue: "0",
			ToValue:   strconv.Itoa(res.Winner.Rotation),
			Reason:    "trial confidence comparison",
			Evidence:  trialEvidence(res.Attempts),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2: classification, then text-pattern verification against the
	// winning trial's text.
	primary := p.classify(ctx, doc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	verified, event := p.verifier.Verify(primary, res.Winner.Text)
	if event != nil {
		p.log.Info("classification corrected", "doc", id,
			"from", event.FromValue, "to", event.ToValue)
		doc.addCorrection(*event)
	}
	doc.Classification = verified

	// Stage 3: ranked OCR selection on the oriented page.
	sel, err := p.selector.Select(ctx, doc.Image)
	if err != nil {
		return nil, err
	}
	doc.Attempts = append(doc.Attempts, sel.Attempts...)
	if sel.Exhausted {
		exhausted := apperrors.NewOCRExhaustedError(id, len(sel.Attempts))
		p.log.Warn("document degraded", "doc", id, "reason", exhausted.Error())
		doc.OCRFailed = true
		doc.Degraded = true
		doc.addCorrection(CorrectionEvent{
			Stage:  StageOCR,
			Reason: "every ranked engine failed, no text extracted",
		})
		doc.Finalized = true
		return doc, nil
	}
	doc.ChosenAttempt = sel.Chosen

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4: field validation against the chosen attempt's text.
	fields, events := p.validator.Validate(sel.Fields, sel.Chosen.Text)
	doc.Fields = fields
	for _, ev := range events {
		doc.addCorrection(ev)
		if ev.ToValue == UnknownValue {
			doc.Degraded = true
		}
	}

	doc.Finalized = true
	p.log.Info("document finalized", "doc", id,
		"label", doc.Classification.Label, "rotation", doc.Rotation,
		"engine", doc.ChosenAttempt.EngineID, "fields", len(doc.Fields),
		"corrections", len(doc.Corrections), "degraded", doc.Degraded)
	return doc, nil
}

// classify calls the primary classifier with a timeout and a single retry; a
// dead classifier degrades to an unknown label so the verifier can still
// recover the type from text evidence.
func (p *Pipeline) classify(ctx context.Context, doc *Document) ClassificationResult {
	label, confidence, err := p.classifyOnce(ctx, doc.Image)
	if err != nil && ctx.Err() == nil {
		label, confidence, err = p.classifyOnce(ctx, doc.Image)
	}
	if err != nil {
		p.log.Warn("primary classifier unavailable", "doc", doc.ID, "error", err)
		doc.addCorrection(CorrectionEvent{
			Stage:     StageClassification,
			FromValue: "",
			ToValue:   "unknown",
			Reason:    "primary classifier unavailable",
		})
		return ClassificationResult{Label: "unknown", Source: SourcePrimaryModel}
	}
	return ClassificationResult{Label: label, Confidence: confidence, Source: SourcePrimaryModel}
}

func (p *Pipeline) classifyOnce(ctx context.Context, img PageImage) (string, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.classifierTimeout)
	defer cancel()
	return p.classifier.Classify(callCtx, img)
}

func trialEvidence(attempts []OcrAttempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = fmt.Sprintf("%d:%.1f", a.Rotation, a.Confidence)
	}
	return "confidence " + strings.Join(parts, " ")
}
