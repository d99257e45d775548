package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"
)

var (
	defaultMu     sync.RWMutex
	defaultEngine Engine = noopEngine{}
)

// DefaultEngine returns the registered engine. Until an engine package
// registers itself this is a no-op engine that recognizes nothing.
func DefaultEngine() Engine {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultEngine
}

func SetDefaultEngine(engine Engine) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultEngine = engine
}

// Recognize runs inputs through engine, using a batch call when supported.
func Recognize(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, inputs)
	}
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RecognizeImages preprocesses and encodes images, then recognizes them.
// Results are in input order.
func RecognizeImages(ctx context.Context, engine Engine, page int, images []image.Image, pre PreprocessConfig, opts ...InputOption) ([]Result, error) {
	inputs := make([]Input, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, err := InputFromImage(fmt.Sprintf("page-%d-img-%d", page, i), page, PreprocessWith(img, pre), opts...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return Recognize(ctx, engine, inputs)
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(ctx context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}
