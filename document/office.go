package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/xuri/excelize/v2"
)

// extractDOCX joins the body paragraphs with newlines.
func extractDOCX(data []byte) (Result, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open docx: %w", err)
	}
	var paras []string
	for _, it := range doc.Document.Body.Items {
		if p, ok := it.(*docx.Paragraph); ok {
			paras = append(paras, p.String())
		}
	}
	text := strings.Join(paras, "\n")
	return Result{Text: text, Pages: []Page{{Method: MethodDirect, Text: text}}}, nil
}

// extractXLSX writes each sheet under a "--- Foglio: name ---" banner with
// one line per row and tab separated cells.
func extractXLSX(data []byte) (Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	var pages []Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Result{}, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		var body strings.Builder
		for _, row := range rows {
			body.WriteString(strings.Join(row, "\t"))
			body.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "\n--- Foglio: %s ---\n", sheet)
		sb.WriteString(body.String())
		pages = append(pages, Page{Index: i, Label: sheet, Method: MethodDirect, Text: strings.TrimSpace(body.String())})
	}
	return Result{Text: sb.String(), Pages: pages}, nil
}
