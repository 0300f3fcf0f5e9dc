// Package tesseract adapts the gosseract Tesseract client to the pipeline's
// Engine interface. It lives in its own package so the core pipeline does not
// require cgo; stub engines can stand in for it in tests.
package tesseract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

// Engine is a Tesseract-backed recognizer. Each Engine owns exactly one
// gosseract client; Close releases it. The lifecycle manager creates one
// Engine per recreate epoch.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates a Tesseract engine recognizing the given languages
// (Tesseract language codes, e.g. "eng"). With no languages the client
// default applies.
func NewEngine(languages ...string) (*Engine, error) {
	client := gosseract.NewClient()

	if len(languages) > 0 {
		err := client.SetLanguage(languages...)
		if err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("set languages %v: %w", languages, err)
		}
	}

	return &Engine{client: client}, nil
}

// Factory returns an ocr.EngineFactory producing fresh Tesseract engines.
func Factory(languages ...string) ocr.EngineFactory {
	return func() (ocr.Engine, error) {
		return NewEngine(languages...)
	}
}

// Recognize runs Tesseract on the image and converts its word-level output
// into blocks of ordered lines with per-line confidences.
func (e *Engine) Recognize(imagePath string) ([]ocr.RawBlock, error) {
	err := e.client.SetImage(imagePath)
	if err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	if len(boxes) == 0 {
		return e.recognizePlain()
	}

	return blocksFromBoxes(boxes), nil
}

// Close releases the underlying Tesseract client.
func (e *Engine) Close() error {
	err := e.client.Close()
	if err != nil {
		return fmt.Errorf("close tesseract client: %w", err)
	}

	return nil
}

// recognizePlain falls back to whole-image text when Tesseract reports no
// word geometry, returning a single block without box or confidence.
func (e *Engine) recognizePlain() ([]ocr.RawBlock, error) {
	text, err := e.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := make([]ocr.RawLine, 0)

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		lines = append(lines, ocr.RawLine{Text: line, Confidence: nil})
	}

	return []ocr.RawBlock{
		{Text: strings.TrimSpace(text), Box: nil, Lines: lines},
	}, nil
}

// lineKey orders words into lines. Tesseract numbers lines within a
// paragraph, so a line is identified by paragraph and line together.
type lineKey struct {
	par  int
	line int
}

// blocksFromBoxes groups Tesseract's word-level results into blocks of
// ordered lines, preserving reading order. Word confidences (0–100) are
// averaged per line and normalized to [0.0, 1.0].
func blocksFromBoxes(boxes []gosseract.BoundingBox) []ocr.RawBlock {
	blockOrder := make([]int, 0)
	wordsByBlock := make(map[int][]gosseract.BoundingBox)

	for _, box := range boxes {
		if _, seen := wordsByBlock[box.BlockNum]; !seen {
			blockOrder = append(blockOrder, box.BlockNum)
		}

		wordsByBlock[box.BlockNum] = append(wordsByBlock[box.BlockNum], box)
	}

	blocks := make([]ocr.RawBlock, 0, len(blockOrder))

	for _, blockNum := range blockOrder {
		blocks = append(blocks, buildBlock(wordsByBlock[blockNum]))
	}

	return blocks
}

// buildBlock assembles one block from its words: lines in reading order, the
// block text as newline-joined lines, and the union of word boxes.
func buildBlock(words []gosseract.BoundingBox) ocr.RawBlock {
	lineOrder := make([]lineKey, 0)
	wordsByLine := make(map[lineKey][]gosseract.BoundingBox)

	for _, word := range words {
		key := lineKey{par: word.ParNum, line: word.LineNum}
		if _, seen := wordsByLine[key]; !seen {
			lineOrder = append(lineOrder, key)
		}

		wordsByLine[key] = append(wordsByLine[key], word)
	}

	sort.SliceStable(lineOrder, func(i, j int) bool {
		if lineOrder[i].par != lineOrder[j].par {
			return lineOrder[i].par < lineOrder[j].par
		}

		return lineOrder[i].line < lineOrder[j].line
	})

	lines := make([]ocr.RawLine, 0, len(lineOrder))
	lineTexts := make([]string, 0, len(lineOrder))

	for _, key := range lineOrder {
		line := buildLine(wordsByLine[key])
		lines = append(lines, line)
		lineTexts = append(lineTexts, line.Text)
	}

	return ocr.RawBlock{
		Text:  strings.Join(lineTexts, "\n"),
		Box:   unionBox(words),
		Lines: lines,
	}
}

// buildLine joins a line's words and averages their confidences.
func buildLine(words []gosseract.BoundingBox) ocr.RawLine {
	texts := make([]string, 0, len(words))

	var confidenceSum float64

	for _, word := range words {
		texts = append(texts, word.Word)
		confidenceSum += word.Confidence
	}

	confidence := confidenceSum / float64(len(words)) / 100.0

	return ocr.RawLine{
		Text:       strings.Join(texts, " "),
		Confidence: &confidence,
	}
}

// unionBox computes the bounding box covering all the given words.
func unionBox(words []gosseract.BoundingBox) *ocr.BoundingBox {
	if len(words) == 0 {
		return nil
	}

	rect := words[0].Box
	for _, word := range words[1:] {
		rect = rect.Union(word.Box)
	}

	return &ocr.BoundingBox{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}
