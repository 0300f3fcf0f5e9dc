package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // registers PNG decoding for receipt screenshots
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/image/draw"
)

// Preprocessor normalizes a source image before recognition: it bounds the
// longest dimension and re-encodes at a throughput-friendly JPEG quality.
//
// Preprocessing is strictly best-effort. A file that cannot be read or
// decoded is handed to the recognizer untouched; decode failure is a
// recoverable condition here, never an error.
type Preprocessor struct {
	maxDimension int
	jpegQuality  int
	logger       *logger.Logger
}

// NewPreprocessor creates a preprocessor that bounds images to maxDimension
// pixels on their longest side and re-encodes them at the given JPEG quality.
func NewPreprocessor(maxDimension, jpegQuality int, log *logger.Logger) *Preprocessor {
	return &Preprocessor{
		maxDimension: maxDimension,
		jpegQuality:  jpegQuality,
		logger:       log,
	}
}

// Preprocess produces a working copy of the source image and returns its
// path. When the source cannot be decoded or the copy cannot be written, the
// source path itself is returned and recognition proceeds on the original.
//
// The working file is created next to the source with a time-based suffix.
// Deleting it is the attempt executor's responsibility, not this component's.
func (p *Preprocessor) Preprocess(sourcePath string) string {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		p.logger.Warnf("Preprocess: read %s: %v, using original", filepath.Base(sourcePath), err)

		return sourcePath
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		p.logger.Infof("Preprocess: %s is not decodable (%v), using original", filepath.Base(sourcePath), err)

		return sourcePath
	}

	scaled := p.boundDimensions(img)

	workingPath := deriveWorkingPath(sourcePath)

	err = p.writeJPEG(workingPath, scaled)
	if err != nil {
		p.logger.Warnf("Preprocess: write working copy for %s: %v, using original", filepath.Base(sourcePath), err)

		return sourcePath
	}

	p.logger.Infof(
		"Preprocessed %s (%s %dx%d -> %dx%d)",
		filepath.Base(sourcePath),
		format,
		img.Bounds().Dx(), img.Bounds().Dy(),
		scaled.Bounds().Dx(), scaled.Bounds().Dy(),
	)

	return workingPath
}

// boundDimensions uniformly scales the image so its longer side equals the
// configured maximum, preserving aspect ratio. Images already within bounds
// are returned unchanged.
func (p *Preprocessor) boundDimensions(img image.Image) image.Image {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	longest := width
	if height > longest {
		longest = height
	}

	if longest <= p.maxDimension {
		return img
	}

	scale := float64(p.maxDimension) / float64(longest)
	newWidth := int(math.Round(float64(width) * scale))
	newHeight := int(math.Round(float64(height) * scale))

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)

	return scaled
}

// writeJPEG encodes the image to the target path at the configured quality.
// A partially written file is removed so a failed preprocess leaves nothing
// behind.
func (p *Preprocessor) writeJPEG(targetPath string, img image.Image) error {
	out, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("create working file: %w", err)
	}

	encodeErr := jpeg.Encode(out, img, &jpeg.Options{Quality: p.jpegQuality})

	closeErr := out.Close()

	if encodeErr != nil {
		_ = os.Remove(targetPath)

		return fmt.Errorf("encode working file: %w", encodeErr)
	}

	if closeErr != nil {
		_ = os.Remove(targetPath)

		return fmt.Errorf("close working file: %w", closeErr)
	}

	return nil
}

// deriveWorkingPath places the working copy in the source directory with a
// time-based unique suffix.
func deriveWorkingPath(sourcePath string) string {
	dir := filepath.Dir(sourcePath)
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	return filepath.Join(dir, fmt.Sprintf("%s_ocr_%d.jpg", base, time.Now().UnixNano()))
}
