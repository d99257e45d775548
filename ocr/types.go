package ocr

import (
	"context"
	"image"
)

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
	// ImageFormatUnknown marks bytes passed through undecoded; engines
	// sniff the format themselves.
	ImageFormatUnknown ImageFormat = "application/octet-stream"
)

// Input encapsulates a single image submitted for OCR.
type Input struct {
	// ID is echoed back in the corresponding Result.
	ID string
	// Image is the encoded image payload in the format specified by Format.
	Image  []byte
	Format ImageFormat
	// PageIndex links the input back to the zero-based page it came from.
	PageIndex int
	// DPI is the effective resolution; zero means unknown.
	DPI int
	// Languages are Tesseract language codes such as "ita" or "eng".
	Languages []string
	// Metadata carries engine-specific variables.
	Metadata map[string]string
}

// Word is a single recognized token.
type Word struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64
}

// Result captures OCR output for a single input image.
type Result struct {
	InputID   string
	PlainText string
	Words     []Word
	// Confidence is the mean word confidence in [0,1], zero when unknown.
	Confidence float64
	Language   string
}

// Engine is the simplest OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine handles multiple images in a single call.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}

// Versioner is implemented by engines that can report the native library
// version.
type Versioner interface {
	Version() string
}
