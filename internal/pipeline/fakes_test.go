package pipeline

import (
	"context"
	"sync"
)

// scriptedEngine returns canned results keyed by the image rotation, so one
// fake covers both orientation trials and ranked selection.
type scriptedEngine struct {
	id      string
	results map[int]EngineResult
	errs    map[int]error

	mu    sync.Mutex
	calls int
}

func (e *scriptedEngine) ID() string { return e.id }

func (e *scriptedEngine) Run(ctx context.Context, img PageImage) (*EngineResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := e.errs[img.Rotation]; ok {
		return nil, err
	}
	res, ok := e.results[img.Rotation]
	if !ok {
		return &EngineResult{Confidence: NoConfidence}, nil
	}
	return &res, nil
}

func (e *scriptedEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeSource rotates by updating the rotation tag only; good enough for
// decision tests, which never look at pixels.
type fakeSource struct{}

func (fakeSource) Rotate(img PageImage, angle int) (PageImage, error) {
	img.Rotation = angle
	return img, nil
}

func (fakeSource) Load(ctx context.Context, ref string) (PageImage, error) {
	return PageImage{Ref: ref, Format: "jpeg"}, nil
}

type scriptedClassifier struct {
	label      string
	confidence float64
	err        error
}

func (c *scriptedClassifier) Classify(ctx context.Context, img PageImage) (string, float64, error) {
	if c.err != nil {
		return "", 0, c.err
	}
	return c.label, c.confidence, nil
}
