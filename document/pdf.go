package document

import (
	"bytes"
	"context"
	"image"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/referto-app/referto/extractor"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/ocr"
)

// extractPDF reads the text layer of each page and falls back to OCR of the
// page images when the layer is too short to be real text. A short layer on
// a page without images is dropped.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	dec, err := e.pdf.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	ex, err := extractor.New(dec)
	if err != nil {
		return Result{}, err
	}
	layer, err := ex.ExtractText()
	if err != nil {
		return Result{}, err
	}

	pages := make([]Page, len(layer))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, pt := range layer {
		pages[i] = Page{Index: pt.Page, Label: pt.Label, Method: MethodTextLayer, Text: pt.Content}
		if len([]rune(strings.TrimSpace(pt.Content))) > e.cfg.MinTextChars {
			continue
		}
		g.Go(func() error {
			text, conf, ok, err := e.ocrPage(gctx, ex, i)
			if err != nil {
				return err
			}
			if !ok {
				// Too short to be report text and nothing to recognize.
				pages[i].Text = ""
				return nil
			}
			pages[i].Method = MethodOCR
			pages[i].Text = text
			pages[i].Confidence = conf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		sb.WriteString(p.Text)
		sb.WriteByte('\n')
	}
	return Result{Text: sb.String(), Pages: pages}, nil
}

// ocrPage recognizes every decodable image of a page. ok is false when the
// page has no usable images.
func (e *Extractor) ocrPage(ctx context.Context, ex *extractor.Extractor, index int) (string, float64, bool, error) {
	assets, err := ex.PageImages(index)
	if err != nil {
		return "", 0, false, err
	}
	var images []image.Image
	for _, a := range assets {
		img, err := a.ToImage()
		if err != nil {
			e.logger.Debug("page image skipped",
				observability.Int("page", index),
				observability.String("image", a.ResourceName),
				observability.Error("error", err))
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return "", 0, false, nil
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanOCR)
	span.SetTag("page", index)
	span.SetTag("images", len(images))
	defer span.Finish()

	results, err := ocr.RecognizeImages(ctx, e.engine(), index, images, e.cfg.Preprocess, e.cfg.OCROptions...)
	if err != nil {
		span.SetError(err)
		return "", 0, false, err
	}
	texts := make([]string, 0, len(results))
	var conf float64
	for _, r := range results {
		texts = append(texts, strings.TrimSpace(r.PlainText))
		conf += r.Confidence
	}
	return strings.Join(texts, "\n"), conf / float64(len(results)), true, nil
}
