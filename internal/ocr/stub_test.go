package ocr_test

import (
	"sync/atomic"
	"time"

	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

// stubEngine is a deterministic Engine stand-in for pipeline tests.
type stubEngine struct {
	blocks     []ocr.RawBlock
	err        error
	delay      time.Duration
	recognized atomic.Int64
	closed     atomic.Int64
}

func (e *stubEngine) Recognize(_ string) ([]ocr.RawBlock, error) {
	e.recognized.Add(1)

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	if e.err != nil {
		return nil, e.err
	}

	return e.blocks, nil
}

func (e *stubEngine) Close() error {
	e.closed.Add(1)

	return nil
}

// stubFactory creates stub engines and records every creation.
type stubFactory struct {
	engines []*stubEngine
	// build returns the engine for the n-th creation (zero-based). When
	// nil, a plain succeeding engine is created.
	build func(n int) (*stubEngine, error)
}

func (f *stubFactory) factory() ocr.EngineFactory {
	return func() (ocr.Engine, error) {
		index := len(f.engines)

		if f.build == nil {
			engine := &stubEngine{}
			f.engines = append(f.engines, engine)

			return engine, nil
		}

		engine, err := f.build(index)
		if err != nil {
			return nil, err
		}

		f.engines = append(f.engines, engine)

		return engine, nil
	}
}

func (f *stubFactory) creations() int {
	return len(f.engines)
}

func sampleBlocks() []ocr.RawBlock {
	high := 0.95

	return []ocr.RawBlock{
		{
			Text: "ALDI SUED\nTOTAL 12.50",
			Box:  &ocr.BoundingBox{X: 4, Y: 8, Width: 300, Height: 60},
			Lines: []ocr.RawLine{
				{Text: "ALDI SUED", Confidence: &high},
				{Text: "TOTAL 12.50", Confidence: &high},
			},
		},
	}
}
