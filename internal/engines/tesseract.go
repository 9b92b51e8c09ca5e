package engines

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

const tesseractEngineID = "tesseract"

// Tesseract runs local OCR. It is the cheapest ranked backend and doubles as
// the orientation trial engine, where its lack of a native confidence score
// is covered by the resolver's text-quality proxy.
type Tesseract struct {
	languages []string
	log       *logging.Logger
}

// NewTesseract builds the local engine. langs is a +-separated Tesseract
// language list such as "eng+ara".
func NewTesseract(langs string, log *logging.Logger) *Tesseract {
	return &Tesseract{
		languages: strings.Split(langs, "+"),
		log:       log,
	}
}

func (e *Tesseract) ID() string { return tesseractEngineID }

// Run extracts text with a fresh Tesseract client per invocation; gosseract
// clients are not safe for concurrent reuse. No structured fields and no
// native confidence are produced.
func (e *Tesseract) Run(ctx context.Context, img pipeline.PageImage) (*pipeline.EngineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return nil, apperrors.NewTransientEngineError(tesseractEngineID, err)
	}
	if err := client.SetImageFromBytes(img.Data); err != nil {
		return nil, apperrors.NewTransientEngineError(tesseractEngineID, err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, apperrors.NewTransientEngineError(tesseractEngineID, err)
	}

	e.log.Debug("local ocr complete", "ref", img.Ref, "rotation", img.Rotation, "textLength", len(text))

	return &pipeline.EngineResult{
		Text:       text,
		Confidence: pipeline.NoConfidence,
	}, nil
}
