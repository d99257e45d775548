// Package summarize turns extracted report text into a patient-facing summary
// using a generative model.
package summarize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/referto-app/referto/observability"
)

var ErrEmptyText = errors.New("no text to summarize")

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

type Request struct {
	Type   PromptType
	Custom string
	Text   string
}

type Summary struct {
	Text     string
	HTML     string
	Model    string
	Type     PromptType
	Duration time.Duration
}

type Service struct {
	presets Presets
	gen     Generator
	logger  observability.Logger
	tracer  observability.Tracer
}

func NewService(presets Presets, gen Generator, logger observability.Logger, tracer observability.Tracer) *Service {
	if presets.Templates == nil {
		presets = DefaultPresets()
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &Service{presets: presets, gen: gen, logger: logger, tracer: tracer}
}

func (s *Service) Presets() Presets { return s.presets }

func (s *Service) Model() string { return s.gen.Model() }

// Summarize builds the prompt for req and asks the model for a summary.
func (s *Service) Summarize(ctx context.Context, req Request) (Summary, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Summary{}, ErrEmptyText
	}
	if req.Type == "" {
		req.Type = PromptSimple
	}
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanSummarize)
	span.SetTag("prompt_type", string(req.Type))
	span.SetTag("model", s.gen.Model())
	defer span.Finish()

	start := time.Now()
	text, err := s.gen.Generate(ctx, s.presets.Prompt(req.Type, req.Custom, req.Text))
	if err != nil {
		span.SetError(err)
		s.logger.Error("summary generation failed",
			observability.String("prompt_type", string(req.Type)),
			observability.Error("error", err))
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	htmlText, err := RenderHTML(text)
	if err != nil {
		span.SetError(err)
		return Summary{}, err
	}
	sum := Summary{
		Text:     text,
		HTML:     htmlText,
		Model:    s.gen.Model(),
		Type:     req.Type,
		Duration: time.Since(start),
	}
	s.logger.Info("summary generated",
		observability.String("prompt_type", string(req.Type)),
		observability.Int("input_chars", len(req.Text)),
		observability.Int("summary_chars", len(text)),
		observability.Duration("duration", sum.Duration))
	return sum, nil
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts model markdown to HTML. Raw HTML in the input is
// omitted by the renderer.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
