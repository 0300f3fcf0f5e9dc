package ocr

import (
	"fmt"
	"regexp"
	"strings"
)

// TextBlock is one recognized text region of the final result.
type TextBlock struct {
	Text string `json:"text"`
	// Box locates the block in source-image pixel coordinates, when the
	// recognizer reported one.
	Box *BoundingBox `json:"box,omitempty"`
	// Confidence is the arithmetic mean of the block's line confidences,
	// counting only lines that report one. Nil when no line does.
	Confidence *float64 `json:"confidence,omitempty"`
	// Lines holds the block's line texts in reading order.
	Lines []string `json:"lines"`
}

// Result is the outcome of a recognition call: either Success with the
// recognized text, or a failure carrying a human-readable message. It is
// immutable once constructed.
type Result struct {
	Success bool `json:"success"`
	// RawText is the recognizer output exactly as provided, with no
	// trimming or normalization.
	RawText string      `json:"raw_text,omitempty"`
	Blocks  []TextBlock `json:"blocks,omitempty"`
	// Confidence is the mean over blocks with a defined confidence, or nil
	// when none have one.
	Confidence   *float64 `json:"confidence,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// Aggregate converts native recognizer blocks into a success Result,
// preserving native block and line order.
func Aggregate(blocks []RawBlock) Result {
	textBlocks := make([]TextBlock, 0, len(blocks))
	rawParts := make([]string, 0, len(blocks))

	for _, block := range blocks {
		rawParts = append(rawParts, block.Text)

		lines := make([]string, 0, len(block.Lines))
		for _, line := range block.Lines {
			lines = append(lines, line.Text)
		}

		textBlocks = append(textBlocks, TextBlock{
			Text:       block.Text,
			Box:        block.Box,
			Confidence: blockConfidence(block.Lines),
			Lines:      lines,
		})
	}

	return Result{
		Success:      true,
		RawText:      strings.Join(rawParts, "\n"),
		Blocks:       textBlocks,
		Confidence:   overallConfidence(textBlocks),
		ErrorMessage: "",
	}
}

// Failure constructs the failure arm of a Result.
func Failure(message string) Result {
	return Result{
		Success:      false,
		RawText:      "",
		Blocks:       nil,
		Confidence:   nil,
		ErrorMessage: message,
	}
}

// blockConfidence averages the confidences of lines that report one. It
// returns nil, not zero, when no line reports a confidence.
func blockConfidence(lines []RawLine) *float64 {
	var sum float64

	counted := 0

	for _, line := range lines {
		if line.Confidence == nil {
			continue
		}

		sum += *line.Confidence
		counted++
	}

	if counted == 0 {
		return nil
	}

	mean := sum / float64(counted)

	return &mean
}

// overallConfidence averages the defined block confidences, nil when no block
// has one.
func overallConfidence(blocks []TextBlock) *float64 {
	var sum float64

	counted := 0

	for _, block := range blocks {
		if block.Confidence == nil {
			continue
		}

		sum += *block.Confidence
		counted++
	}

	if counted == 0 {
		return nil
	}

	mean := sum / float64(counted)

	return &mean
}

// Lines returns the non-empty lines of the raw text, trimmed, in order of
// occurrence.
func (r Result) Lines() []string {
	var lines []string

	for _, line := range strings.Split(r.RawText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines
}

// Contains reports whether the raw text contains the given substring,
// case-insensitively.
func (r Result) Contains(substring string) bool {
	return strings.Contains(
		strings.ToLower(r.RawText),
		strings.ToLower(substring),
	)
}

// FindAll returns every non-empty match of the pattern in the raw text, in
// order of occurrence.
func (r Result) FindAll(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	var matches []string

	for _, match := range re.FindAllString(r.RawText, -1) {
		if match == "" {
			continue
		}

		matches = append(matches, match)
	}

	return matches, nil
}
