package ocr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/receipt-ocr-service/internal/ocr"
)

func confidence(value float64) *float64 {
	return &value
}

func TestAggregate_ConfidenceAveraging(t *testing.T) {
	t.Parallel()

	blocks := []ocr.RawBlock{
		{
			Text: "COFFEE 3.50\nMUFFIN 2.80",
			Box:  &ocr.BoundingBox{X: 10, Y: 20, Width: 200, Height: 40},
			Lines: []ocr.RawLine{
				{Text: "COFFEE 3.50", Confidence: confidence(0.9)},
				{Text: "MUFFIN 2.80", Confidence: confidence(0.8)},
			},
		},
		{
			Text: "THANK YOU",
			Box:  nil,
			Lines: []ocr.RawLine{
				{Text: "THANK YOU", Confidence: nil},
			},
		},
	}

	result := ocr.Aggregate(blocks)

	require.True(t, result.Success)
	require.Len(t, result.Blocks, 2)

	// Block 1: mean of 0.9 and 0.8.
	require.NotNil(t, result.Blocks[0].Confidence)
	assert.InDelta(t, 0.85, *result.Blocks[0].Confidence, 1e-9)

	// Block 2 reports no line confidence, so its confidence is absent,
	// not zero.
	assert.Nil(t, result.Blocks[1].Confidence)

	// Overall: mean over defined blocks only, here exactly one.
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.85, *result.Confidence, 1e-9)
}

func TestAggregate_PreservesOrderAndRawText(t *testing.T) {
	t.Parallel()

	blocks := []ocr.RawBlock{
		{Text: "HEADER", Box: nil, Lines: []ocr.RawLine{{Text: "HEADER", Confidence: nil}}},
		{Text: "  TOTAL 12.50 ", Box: nil, Lines: []ocr.RawLine{{Text: "  TOTAL 12.50 ", Confidence: nil}}},
		{Text: "FOOTER", Box: nil, Lines: []ocr.RawLine{{Text: "FOOTER", Confidence: nil}}},
	}

	result := ocr.Aggregate(blocks)

	// Raw text is the native output joined in native order, untrimmed.
	assert.Equal(t, "HEADER\n  TOTAL 12.50 \nFOOTER", result.RawText)

	require.Len(t, result.Blocks, 3)
	assert.Equal(t, "HEADER", result.Blocks[0].Text)
	assert.Equal(t, "  TOTAL 12.50 ", result.Blocks[1].Text)
	assert.Equal(t, "FOOTER", result.Blocks[2].Text)
}

func TestAggregate_NoConfidenceAnywhere(t *testing.T) {
	t.Parallel()

	blocks := []ocr.RawBlock{
		{Text: "A", Box: nil, Lines: []ocr.RawLine{{Text: "A", Confidence: nil}}},
	}

	result := ocr.Aggregate(blocks)

	assert.Nil(t, result.Confidence)
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	result := ocr.Aggregate(nil)

	require.True(t, result.Success)
	assert.Empty(t, result.RawText)
	assert.Empty(t, result.Blocks)
	assert.Nil(t, result.Confidence)
}

func TestFailure(t *testing.T) {
	t.Parallel()

	result := ocr.Failure("recognition timed out after 5s")

	assert.False(t, result.Success)
	assert.Equal(t, "recognition timed out after 5s", result.ErrorMessage)
	assert.Empty(t, result.RawText)
}

func TestResult_Lines(t *testing.T) {
	t.Parallel()

	result := ocr.Aggregate([]ocr.RawBlock{
		{Text: "LIDL\n\n  BANANAS 1.09  \n", Box: nil, Lines: nil},
		{Text: "TOTAL 1.09", Box: nil, Lines: nil},
	})

	assert.Equal(t, []string{"LIDL", "BANANAS 1.09", "TOTAL 1.09"}, result.Lines())
}

func TestResult_Contains(t *testing.T) {
	t.Parallel()

	result := ocr.Aggregate([]ocr.RawBlock{
		{Text: "Total Amount: 42.00", Box: nil, Lines: nil},
	})

	assert.True(t, result.Contains("total amount"))
	assert.True(t, result.Contains("AMOUNT: 42"))
	assert.False(t, result.Contains("subtotal"))
}

func TestResult_FindAll(t *testing.T) {
	t.Parallel()

	result := ocr.Aggregate([]ocr.RawBlock{
		{Text: "COFFEE 3.50\nMUFFIN 2.80\nTOTAL 6.30", Box: nil, Lines: nil},
	})

	matches, err := result.FindAll(`\d+\.\d{2}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"3.50", "2.80", "6.30"}, matches)
}

func TestResult_FindAll_InvalidPattern(t *testing.T) {
	t.Parallel()

	result := ocr.Aggregate(nil)

	_, err := result.FindAll(`([`)
	require.Error(t, err)
}
