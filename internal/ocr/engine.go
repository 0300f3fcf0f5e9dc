// Package ocr implements the receipt text-recognition pipeline: image
// preprocessing, recognizer lifecycle management, timeout-guarded attempt
// execution, bounded retries, and confidence aggregation.
//
// The native recognizer is consumed through the Engine interface as an opaque
// capability. It is known to hang or accumulate corrupt internal state, so the
// pipeline never reuses a handle across top-level calls and never assumes a
// call can be cancelled once started.
package ocr

// Engine is the boundary to the native text recognizer.
//
// Recognize deliberately takes no context: the native layer offers no
// cancellation guarantee, so timeouts are imposed by the attempt executor
// racing the call, not by cancelling it. A Recognize call that outlives its
// caller is abandoned together with its Engine instance.
type Engine interface {
	// Recognize runs text recognition on the image at the given path and
	// returns the recognized blocks in reading order.
	Recognize(imagePath string) ([]RawBlock, error)
	// Close releases the native resources held by the engine. The engine
	// must not be used after Close.
	Close() error
}

// EngineFactory creates a fresh Engine instance. The lifecycle manager calls
// it once per recreate epoch.
type EngineFactory func() (Engine, error)

// RawLine is a single recognized line within a block, as reported by the
// native recognizer.
type RawLine struct {
	Text string
	// Confidence is the recognizer-reported certainty in [0.0, 1.0], or
	// nil when the recognizer does not report one for this line.
	Confidence *float64
}

// RawBlock is a spatial region of recognized text made up of ordered lines.
type RawBlock struct {
	Text  string
	Box   *BoundingBox
	Lines []RawLine
}

// BoundingBox locates a text block in source-image pixel space. Values are
// recognizer-supplied and trusted as-is; no overlap or containment invariant
// is enforced.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
