// Package document extracts plain text from uploaded reports in any of the
// accepted formats.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/referto-app/referto/ir"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/ocr"
)

// ErrUnsupportedFormat is returned for extensions outside the accepted set.
// Its message is shown to users as is.
var ErrUnsupportedFormat = errors.New("Formato non supportato.")

type Format string

const (
	FormatPDF   Format = "pdf"
	FormatImage Format = "image"
	FormatText  Format = "txt"
	FormatDOCX  Format = "docx"
	FormatXLSX  Format = "xlsx"
)

// Method records how the text of a page was obtained.
type Method string

const (
	MethodTextLayer Method = "text-layer"
	MethodOCR       Method = "ocr"
	MethodDirect    Method = "direct"
)

type Page struct {
	Index      int     `json:"index"`
	Label      string  `json:"label,omitempty"`
	Method     Method  `json:"method"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Result struct {
	Name   string `json:"name"`
	Format Format `json:"format"`
	Text   string `json:"text"`
	Pages  []Page `json:"pages,omitempty"`
	// Digest is the hex BLAKE2b-256 of the extension and content.
	Digest   string        `json:"digest"`
	Cached   bool          `json:"cached,omitempty"`
	Duration time.Duration `json:"-"`
}

// FormatOf maps a file name to its format by lower-cased extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, nil
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp":
		return FormatImage, nil
	case ".txt":
		return FormatText, nil
	case ".docx":
		return FormatDOCX, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", ErrUnsupportedFormat
}

// Config controls extraction.
type Config struct {
	// Engine defaults to ocr.DefaultEngine() at extraction time.
	Engine     ocr.Engine
	OCROptions []ocr.InputOption
	Preprocess ocr.PreprocessConfig
	PDF        ir.Config
	// PDFPassword opens encrypted PDFs. Empty suffices for files protected
	// only by an owner password.
	PDFPassword string
	// MinTextChars is the trimmed length at or below which a PDF page is
	// treated as scanned. Defaults to 10.
	MinTextChars int
	// Workers bounds concurrent page OCR. Defaults to 2.
	Workers int
	Cache   *Cache
}

type Extractor struct {
	cfg    Config
	pdf    *ir.Pipeline
	logger observability.Logger
	tracer observability.Tracer
}

func New(cfg Config, logger observability.Logger, tracer observability.Tracer) *Extractor {
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PDF.MaxDecompressedSize == 0 {
		cfg.PDF.MaxDecompressedSize = 256 << 20
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &Extractor{
		cfg:    cfg,
		pdf:    ir.New(cfg.PDF, logger, tracer).WithPassword(cfg.PDFPassword),
		logger: logger,
		tracer: tracer,
	}
}

func (e *Extractor) engine() ocr.Engine {
	if e.cfg.Engine != nil {
		return e.cfg.Engine
	}
	return ocr.DefaultEngine()
}

// Extract returns the trimmed text of the named document.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (Result, error) {
	format, err := FormatOf(name)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	digest := Digest(name, data)
	if res, ok := e.cfg.Cache.Get(digest); ok {
		res.Name = name
		res.Cached = true
		return res, nil
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanExtract)
	span.SetTag("file", name)
	span.SetTag("format", string(format))
	defer span.Finish()

	var res Result
	switch format {
	case FormatPDF:
		res, err = e.extractPDF(ctx, data)
	case FormatImage:
		res, err = e.extractImage(ctx, data)
	case FormatText:
		res = extractPlain(data)
	case FormatDOCX:
		res, err = extractDOCX(data)
	case FormatXLSX:
		res, err = extractXLSX(data)
	}
	if err != nil {
		span.SetError(err)
		return Result{}, fmt.Errorf("extract %s: %w", name, err)
	}
	res.Name = name
	res.Format = format
	res.Text = strings.TrimSpace(res.Text)
	res.Digest = digest
	res.Duration = time.Since(start)
	e.cfg.Cache.Put(digest, res)

	e.logger.Info("document extracted",
		observability.String("file", name),
		observability.String("format", string(format)),
		observability.Int("pages", len(res.Pages)),
		observability.Int("chars", len(res.Text)),
		observability.Duration("duration", res.Duration))
	return res, nil
}

// ExtractFile reads and extracts a file from disk.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (Result, error) {
	if _, err := FormatOf(path); err != nil {
		return Result{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	return e.Extract(ctx, filepath.Base(path), data)
}
