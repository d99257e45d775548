// Package report renders a summary and the full report text as Word and PDF
// documents.
package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fumiama/go-docx"

	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/writer"
)

const (
	Title           = "Riassunto Referto Medico"
	FullTextHeading = "Testo Integrale"
)

type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "docx", "pdf" or empty for docx.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatDOCX:
		return FormatDOCX, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Filename is the archive name of the report.
func (f Format) Filename() string { return "riassunto_referto." + string(f) }

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

type Renderer struct {
	now    func() time.Time
	tracer observability.Tracer
}

func NewRenderer(tracer observability.Tracer) *Renderer {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &Renderer{now: time.Now, tracer: tracer}
}

// Render produces the report in format f: the title, the summary, a page
// break, then the full text under its own heading.
func (r *Renderer) Render(ctx context.Context, f Format, summary, fullText string) ([]byte, error) {
	_, span := r.tracer.StartSpan(ctx, observability.SpanReport)
	span.SetTag("format", string(f))
	defer span.Finish()

	var (
		data []byte
		err  error
	)
	switch f {
	case FormatDOCX:
		data, err = DOCX(summary, fullText)
	case FormatPDF:
		data, err = PDF(summary, fullText, r.now())
	default:
		err = fmt.Errorf("unknown report format %q", f)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag("bytes", len(data))
	return data, nil
}

//go:embed template
var templateParts embed.FS

// docxTemplate serves the embedded parts and falls back to the library's
// default package for the rest.
type docxTemplate struct{}

func (docxTemplate) Open(name string) (fs.File, error) {
	if f, err := templateParts.Open("template/" + name); err == nil {
		return f, nil
	}
	return docx.TemplateXMLFS.Open("xml/default/" + name)
}

// DOCX renders the Word report. The title and headings use the Title and
// HeadingN paragraph styles so Word lists them in the navigation pane.
func DOCX(summary, fullText string) ([]byte, error) {
	doc := docx.New().UseTemplate("", docx.DefaultTemplateFilesList, docxTemplate{})
	doc.AddParagraph().Style("Title").AddText(Title)

	for _, b := range parseMarkdown(summary) {
		p := doc.AddParagraph()
		switch b.kind {
		case blockHeading:
			p.Style(headingStyle(b.level)).AddText(b.text())
			continue
		case blockListItem:
			indent := strings.Repeat("    ", b.level)
			if b.marker != "" {
				p.AddText(indent + b.marker + " ")
			} else {
				p.AddText(indent + "  ")
			}
		}
		for _, rn := range b.runs {
			if rn.bold {
				p.AddText(rn.text).Bold()
			} else {
				p.AddText(rn.text)
			}
		}
	}

	doc.AddParagraph().AddPageBreaks()
	doc.AddParagraph().Style(headingStyle(1)).AddText(FullTextHeading)
	for _, line := range strings.Split(normalizeNewlines(fullText), "\n") {
		doc.AddParagraph().AddText(line)
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

// headingStyle maps markdown heading levels to the styles defined in
// template/word/styles.xml.
func headingStyle(level int) string {
	switch {
	case level <= 1:
		return "Heading1"
	case level == 2:
		return "Heading2"
	}
	return "Heading3"
}

// PDF renders the same report through the PDF writer.
func PDF(summary, fullText string, created time.Time) ([]byte, error) {
	doc := writer.New(writer.Config{Title: Title, Created: created, Compress: true})
	doc.Title(Title)
	for _, b := range parseMarkdown(summary) {
		switch b.kind {
		case blockHeading:
			doc.Heading(b.text())
		case blockListItem:
			// Leading blanks do not survive wrapping, so nesting is flattened.
			doc.Paragraph(strings.TrimSpace(b.marker + " " + b.text()))
		default:
			doc.Paragraph(b.text())
		}
	}
	doc.PageBreak()
	doc.Heading(FullTextHeading)
	doc.Paragraph(normalizeNewlines(fullText))
	data, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return data, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
