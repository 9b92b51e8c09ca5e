package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/veridoc/docintake-worker/internal/logging"
)

// OrientationResolver picks the page rotation whose OCR trial reads best.
// The four trials are independent and run concurrently, each under its own
// timeout; selection waits for the full candidate set.
type OrientationResolver struct {
	engine       Engine
	rotator      Rotator
	trialTimeout time.Duration
	log          *logging.Logger
}

// NewOrientationResolver builds a resolver around a trial engine, normally
// the cheapest ranked backend.
func NewOrientationResolver(engine Engine, rotator Rotator, trialTimeout time.Duration, log *logging.Logger) *OrientationResolver {
	return &OrientationResolver{
		engine:       engine,
		rotator:      rotator,
		trialTimeout: trialTimeout,
		log:          log,
	}
}

// Resolution is the outcome of orientation resolution.
type Resolution struct {
	Image        PageImage    // the page at the winning rotation
	Winner       OcrAttempt   // the winning trial
	Attempts     []OcrAttempt // all four trials, in test order
	Undetermined bool         // every trial came back empty; angle 0 kept
}

type trial struct {
	attempt OcrAttempt
	image   PageImage
	failed  bool
}

// Resolve runs the four orientation trials and selects the most confident.
// Ties prefer angle 0, then the smaller absolute angle (270 reads as -90),
// then the earliest-tested. A trial failure or timeout scores as an empty
// zero-confidence attempt, never as a pipeline error.
func (r *OrientationResolver) Resolve(ctx context.Context, img PageImage) (*Resolution, error) {
	trials := make([]trial, len(Angles))

	var wg sync.WaitGroup
	for i, angle := range Angles {
		wg.Add(1)
		go func(i, angle int) {
			defer wg.Done()
			trials[i] = r.runTrial(ctx, img, angle)
		}(i, angle)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempts := make([]OcrAttempt, len(trials))
	for i := range trials {
		attempts[i] = trials[i].attempt
	}

	allEmpty := true
	for i := range trials {
		if trials[i].attempt.Text != "" {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		r.log.Warn("all orientation trials empty, keeping angle 0",
			"ref", img.Ref)
		return &Resolution{
			Image:        img,
			Winner:       attempts[0],
			Attempts:     attempts,
			Undetermined: true,
		}, nil
	}

	// Preference order under equal confidence: 0, then 90 and 270 (both
	// 90 degrees off upright, earliest-tested first), then 180.
	best := 0
	for _, i := range trialPreference {
		if trials[i].attempt.Confidence > trials[best].attempt.Confidence {
			best = i
		}
	}

	win := trials[best]
	r.log.Info("orientation resolved",
		"ref", img.Ref, "angle", win.attempt.Rotation, "confidence", win.attempt.Confidence)

	return &Resolution{
		Image:    win.image,
		Winner:   win.attempt,
		Attempts: attempts,
	}, nil
}

// Indexes into Angles in tie-break preference order.
var trialPreference = [4]int{0, 1, 3, 2}

func (r *OrientationResolver) runTrial(ctx context.Context, img PageImage, angle int) trial {
	rotated := img
	if angle != 0 {
		var err error
		rotated, err = r.rotator.Rotate(img, angle)
		if err != nil {
			r.log.Warn("rotation failed for trial", "ref", img.Ref, "angle", angle, "error", err)
			return trial{
				attempt: OcrAttempt{EngineID: r.engine.ID(), Rotation: angle},
				image:   img,
				failed:  true,
			}
		}
	}

	trialCtx, cancel := context.WithTimeout(ctx, r.trialTimeout)
	defer cancel()

	res, err := r.engine.Run(trialCtx, rotated)
	if err != nil {
		r.log.Warn("orientation trial failed", "ref", img.Ref, "angle", angle, "error", err)
		return trial{
			attempt: OcrAttempt{EngineID: r.engine.ID(), Rotation: angle},
			image:   rotated,
			failed:  true,
		}
	}

	conf := res.Confidence
	if conf < 0 {
		conf = proxyConfidence(res.Text)
	}

	return trial{
		attempt: OcrAttempt{
			EngineID:   r.engine.ID(),
			Rotation:   angle,
			Text:       res.Text,
			Confidence: conf,
			FieldCount: len(res.Fields),
		},
		image: rotated,
	}
}

// proxyConfidence derives a deterministic stand-in score for engines without
// a native one: alphabetic token count times average token length, clipped
// to [0,100]. Upside-down OCR output tends to be short garbled tokens, so
// the product separates orientations well enough for comparison.
func proxyConfidence(text string) float64 {
	var count, totalLen int
	for _, tok := range strings.Fields(text) {
		alpha := true
		for _, r := range tok {
			if !unicode.IsLetter(r) {
				alpha = false
				break
			}
		}
		if alpha {
			count++
			totalLen += len([]rune(tok))
		}
	}
	if count == 0 {
		return 0
	}
	score := float64(count) * (float64(totalLen) / float64(count))
	if score > 100 {
		return 100
	}
	return score
}
