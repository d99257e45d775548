package raw

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// readerAt returns a ReaderAt for in-memory PDF text.
func readerAt(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }

func TestParserParsesObjectsAndStream(t *testing.T) {
	src := "%PDF-1.4\n" +
		"1 0 obj\n" +
		"<< /Type /Catalog /Pages 3 0 R >>\n" +
		"endobj\n" +
		"2 0 obj\n" +
		"<< /Length 5 >>\n" +
		"stream\n" +
		"hello\n" +
		"endstream\n" +
		"endobj\n"

	doc, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Version != "1.4" {
		t.Fatalf("unexpected version %q", doc.Version)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(doc.Objects))
	}
	obj1, ok := doc.Objects[ObjectRef{Num: 1, Gen: 0}]
	if !ok || obj1.Type() != "dict" {
		t.Fatalf("expected catalog dict, got %v", obj1)
	}
	stream, ok := doc.Objects[ObjectRef{Num: 2, Gen: 0}].(*StreamObj)
	if !ok {
		t.Fatalf("expected stream object")
	}
	if got := string(stream.Data); got != "hello" {
		t.Fatalf("unexpected stream data: %q", got)
	}
	cat, err := doc.Catalog()
	if err != nil {
		t.Fatalf("catalog fallback failed: %v", err)
	}
	if ref, _ := cat.Get("Pages"); ref != Ref(3, 0) {
		t.Fatalf("unexpected Pages entry %v", ref)
	}
}

func TestParserUsesTrailerAndInfo(t *testing.T) {
	src := "%PDF-1.7\n" +
		"1 0 obj << /Type /Catalog >> endobj\n" +
		"5 0 obj << /Title (Referto) /Author <FEFF00C8> >> endobj\n" +
		"trailer\n<< /Root 1 0 R /Info 5 0 R /Size 6 >>\n%%EOF\n"

	doc, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Metadata.Title != "Referto" {
		t.Fatalf("unexpected title %q", doc.Metadata.Title)
	}
	if doc.Metadata.Author != "È" {
		t.Fatalf("unexpected author %q", doc.Metadata.Author)
	}
	if n, ok := doc.IntOf(doc.Trailer.KV["Size"]); !ok || n != 6 {
		t.Fatalf("unexpected size %d", n)
	}
}

func TestParserIncrementalUpdateWins(t *testing.T) {
	src := "%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog /V 1 >> endobj\n" +
		"trailer << /Root 1 0 R >>\n" +
		"1 0 obj << /Type /Catalog /V 2 >> endobj\n" +
		"trailer << /Root 1 0 R /Prev 9 >>\n"

	doc, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cat, _ := doc.Catalog()
	if v, _ := doc.IntOf(cat.KV["V"]); v != 2 {
		t.Fatalf("expected newest object revision, got %d", v)
	}
	if _, ok := doc.Trailer.Get("Prev"); ok {
		t.Fatalf("Prev should not be merged into trailer")
	}
}

func TestParserStreamWithIndirectLength(t *testing.T) {
	src := "%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog >> endobj\n" +
		"2 0 obj << /Length 3 0 R >>\nstream\nabc endobj def\nendstream\nendobj\n" +
		"3 0 obj 14 endobj\n"

	doc, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	stream := doc.Objects[ObjectRef{Num: 2}].(*StreamObj)
	if string(stream.Data) != "abc endobj def" {
		t.Fatalf("unexpected stream payload %q", stream.Data)
	}
	if _, ok := doc.Objects[ObjectRef{Num: 3}]; !ok {
		t.Fatalf("object after stream not parsed")
	}
}

func TestParserRejectsNonPDF(t *testing.T) {
	_, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt("hello world"))
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestParserRequiresCatalog(t *testing.T) {
	_, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt("%PDF-1.4\n1 0 obj << /A 1 >> endobj\n"))
	if !errors.Is(err, ErrNoCatalog) {
		t.Fatalf("expected ErrNoCatalog, got %v", err)
	}
}

func TestParserDefersCatalogInObjectStream(t *testing.T) {
	src := "%PDF-1.5\n1 0 obj << /Type /ObjStm /N 1 /First 4 /Length 0 >> stream\n\nendstream endobj\n" +
		"trailer << /Root 2 0 R >>\n"
	doc, err := NewParser(ParserConfig{}).Parse(context.Background(), readerAt(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ResolveCatalog(doc); !errors.Is(err, ErrNoCatalog) {
		t.Fatalf("expected ErrNoCatalog before expansion, got %v", err)
	}
	cat := Dict()
	cat.Set("Type", Name("Catalog"))
	doc.Objects[ObjectRef{Num: 2}] = cat
	if err := ResolveCatalog(doc); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestResolveCatalogFallsBackToCatalogObject(t *testing.T) {
	doc, err := NewParser(ParserConfig{}).Parse(context.Background(),
		readerAt("%PDF-1.4\n4 0 obj << /Type /Catalog /Pages 5 0 R >> endobj\ntrailer << /Root 9 0 R >>\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, _ := doc.Trailer.Value("Root").(RefObj)
	if root.R.Num != 4 {
		t.Fatalf("root = %v", root.R)
	}
}

func TestParserHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewParser(ParserConfig{}).Parse(ctx, readerAt("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestStringText(t *testing.T) {
	if got := Str([]byte{0xFE, 0xFF, 0x00, 'O', 0x00, 'K'}).Text(); got != "OK" {
		t.Fatalf("utf16 decode: %q", got)
	}
	if got := Str([]byte("plain")).Text(); got != "plain" {
		t.Fatalf("plain decode: %q", got)
	}
}
