package pipeline

import (
	"context"
	"time"

	"github.com/veridoc/docintake-worker/internal/logging"
)

// EngineSelector arbitrates among ranked OCR backends. Engines are invoked
// strictly in rank order and the first acceptable result short-circuits the
// chain; lower-rank engines are never invoked speculatively, which bounds
// external-call cost.
type EngineSelector struct {
	engines       []Engine
	threshold     float64
	engineTimeout time.Duration
	log           *logging.Logger
}

// NewEngineSelector builds a selector over ranked engines, most capable
// first.
func NewEngineSelector(engines []Engine, threshold float64, engineTimeout time.Duration, log *logging.Logger) *EngineSelector {
	return &EngineSelector{
		engines:       engines,
		threshold:     threshold,
		engineTimeout: engineTimeout,
		log:           log,
	}
}

// Selection is the outcome of engine arbitration.
type Selection struct {
	Chosen    OcrAttempt
	Fields    []ExtractedField
	Attempts  []OcrAttempt // every invocation, selected or not
	Exhausted bool         // every ranked engine failed
}

// Select invokes engines in rank order and accepts the first whose result
// reaches the confidence threshold with at least one structured field. When
// no engine qualifies, the highest-confidence attempt wins, ties going to
// the most-preferred engine. A transient failure is retried once, then
// scored as an empty zero-confidence attempt.
func (s *EngineSelector) Select(ctx context.Context, img PageImage) (*Selection, error) {
	sel := &Selection{}

	bestIdx := -1
	var bestFields []ExtractedField
	succeeded := 0

	for i, engine := range s.engines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.runWithRetry(ctx, engine, img)
		attempt := OcrAttempt{EngineID: engine.ID(), Rotation: img.Rotation}
		var fields []ExtractedField
		if err != nil {
			s.log.Warn("engine failed after retry", "engine", engine.ID(), "ref", img.Ref, "error", err)
		} else {
			succeeded++
			conf := res.Confidence
			if conf < 0 {
				// No native score: reuse the orientation proxy, scaled
				// onto the [0,1] acceptance range.
				conf = proxyConfidence(res.Text) / 100
			}
			attempt.Text = res.Text
			attempt.Confidence = conf
			attempt.FieldCount = len(res.Fields)
			fields = res.Fields
		}
		sel.Attempts = append(sel.Attempts, attempt)

		if err == nil && attempt.Confidence >= s.threshold && attempt.FieldCount >= 1 {
			s.log.Info("engine accepted", "engine", engine.ID(), "ref", img.Ref,
				"confidence", attempt.Confidence, "fields", attempt.FieldCount)
			sel.Chosen = attempt
			sel.Fields = fields
			return sel, nil
		}

		if bestIdx < 0 || attempt.Confidence > sel.Attempts[bestIdx].Confidence {
			bestIdx = i
			bestFields = fields
		}
	}

	if succeeded == 0 {
		s.log.Warn("all ranked engines failed", "ref", img.Ref, "attempted", len(s.engines))
		sel.Exhausted = true
		return sel, nil
	}

	sel.Chosen = sel.Attempts[bestIdx]
	sel.Fields = bestFields
	s.log.Info("no engine met the acceptance policy, taking best attempt",
		"engine", sel.Chosen.EngineID, "ref", img.Ref, "confidence", sel.Chosen.Confidence)
	return sel, nil
}

func (s *EngineSelector) runWithRetry(ctx context.Context, engine Engine, img PageImage) (*EngineResult, error) {
	res, err := s.runOnce(ctx, engine, img)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	// One retry per call site; a second failure is treated as
	// zero-confidence by the caller.
	return s.runOnce(ctx, engine, img)
}

func (s *EngineSelector) runOnce(ctx context.Context, engine Engine, img PageImage) (*EngineResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	defer cancel()
	return engine.Run(runCtx, img)
}
