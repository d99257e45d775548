// Package ir chains the raw parser and the stream decoder.
package ir

import (
	"context"
	"fmt"
	"io"

	"github.com/referto-app/referto/filters"
	"github.com/referto-app/referto/ir/decoded"
	"github.com/referto-app/referto/ir/raw"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/scanner"
	"github.com/referto-app/referto/security"
)

// Config bounds the resources a single document may consume.
type Config struct {
	MaxDecompressedSize int64
	MaxObjects          int
	Workers             int
}

type Pipeline struct {
	rawParser raw.Parser
	decoder   decoded.Decoder
	tracer    observability.Tracer
	logger    observability.Logger
	password  string
}

// NewDefault constructs a pipeline with the built-in parser and filters.
func NewDefault() *Pipeline {
	return New(Config{MaxDecompressedSize: 256 << 20}, observability.NopLogger{}, observability.NopTracer())
}

func New(cfg Config, logger observability.Logger, tracer observability.Tracer) *Pipeline {
	fp := filters.DefaultPipeline(filters.Limits{MaxDecompressedSize: cfg.MaxDecompressedSize})
	return &Pipeline{
		rawParser: raw.NewParser(raw.ParserConfig{
			Scanner:    scanner.Config{MaxDepth: 256, MaxStreamLength: cfg.MaxDecompressedSize},
			MaxObjects: cfg.MaxObjects,
		}),
		decoder: decoded.NewDecoder(fp, cfg.Workers),
		tracer:  tracer,
		logger:  logger,
	}
}

// WithPassword sets the password tried on encrypted documents. The empty
// password is tried by default.
func (p *Pipeline) WithPassword(password string) *Pipeline {
	p.password = password
	return p
}

// Parse runs Raw -> Decrypt -> Decoded.
func (p *Pipeline) Parse(ctx context.Context, r io.ReaderAt) (*decoded.DecodedDocument, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanPDFParse)
	rawDoc, err := p.rawParser.Parse(ctx, r)
	if err != nil {
		span.SetError(err)
		span.Finish()
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}
	span.SetTag("objects", len(rawDoc.Objects))
	span.Finish()
	if rawDoc.Encrypted {
		h, err := security.DecryptDocument(rawDoc, p.password)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("pdf decrypted", observability.Bool("copy_allowed", h.Permissions().Copy))
	}

	ctx, span = p.tracer.StartSpan(ctx, observability.SpanPDFDecode)
	defer span.Finish()
	doc, err := p.decoder.Decode(ctx, rawDoc)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("decoding failed: %w", err)
	}
	if err := raw.ResolveCatalog(rawDoc); err != nil {
		span.SetError(err)
		return nil, err
	}
	rawDoc.Metadata = raw.ReadInfo(rawDoc)
	failed := 0
	for ref, s := range doc.Streams {
		if s.Err != nil {
			failed++
			p.logger.Debug("stream not decoded", observability.String("ref", ref.String()), observability.Error("error", s.Err))
		}
	}
	span.SetTag("streams", len(doc.Streams))
	span.SetTag("failed_streams", failed)
	return doc, nil
}
