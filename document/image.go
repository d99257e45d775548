package document

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/ocr"
)

// extractImage OCRs a photographed or scanned report. Images the decoders
// cannot read are passed to the engine unprocessed.
func (e *Extractor) extractImage(ctx context.Context, data []byte) (Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanOCR)
	defer span.Finish()

	var (
		results []ocr.Result
		err     error
	)
	img, format, decErr := image.Decode(bytes.NewReader(data))
	if decErr != nil {
		e.logger.Debug("image not decoded, sending raw bytes", observability.Error("error", decErr))
		results, err = ocr.Recognize(ctx, e.engine(), []ocr.Input{ocr.InputFromBytes("image", data, e.cfg.OCROptions...)})
	} else {
		span.SetTag("codec", format)
		results, err = ocr.RecognizeImages(ctx, e.engine(), 0, []image.Image{img}, e.cfg.Preprocess, e.cfg.OCROptions...)
	}
	if err != nil {
		span.SetError(err)
		return Result{}, err
	}
	var page Page
	page.Method = MethodOCR
	if len(results) > 0 {
		page.Text = results[0].PlainText
		page.Confidence = results[0].Confidence
	}
	return Result{Text: page.Text, Pages: []Page{page}}, nil
}
