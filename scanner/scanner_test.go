package scanner

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array end, got %+v", tok)
	}
	nextToken(t, s) // /Flag
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true, got %+v", tok)
	}
	nextToken(t, s) // /Null
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict end, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	s := newScanner(t, "/A#20B /Lab#C3#A9", Config{})
	if tok := nextToken(t, s); tok.Str != "A B" {
		t.Fatalf("unexpected name %q", tok.Str)
	}
	if tok := nextToken(t, s); tok.Str != "Lab\xc3\xa9" {
		t.Fatalf("unexpected name %q", tok.Str)
	}
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	s := newScanner(t, `(a\(b\)c \n\101 (nested) \\)`, Config{})
	tok := nextToken(t, s)
	want := "a(b)c \nA (nested) \\"
	if tok.Type != TokenString || string(tok.Bytes) != want {
		t.Fatalf("got %q want %q", tok.Bytes, want)
	}
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	s := newScanner(t, "(one\\\ntwo\\\r\nthree)", Config{})
	if tok := nextToken(t, s); string(tok.Bytes) != "onetwothree" {
		t.Fatalf("unexpected string %q", tok.Bytes)
	}
}

func TestScanner_HexStringOddLength(t *testing.T) {
	s := newScanner(t, "<48 65 6C 6C 6F 7>", Config{})
	tok := nextToken(t, s)
	if !bytes.Equal(tok.Bytes, []byte("Hello\x70")) {
		t.Fatalf("unexpected hex bytes %x", tok.Bytes)
	}
}

func TestScanner_ReferenceDetection(t *testing.T) {
	s := newScanner(t, "[5 0 R 7 1 R]", Config{})
	nextToken(t, s)
	tok := nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 5 || tok.Gen != 0 {
		t.Fatalf("expected ref 5 0, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 7 || tok.Gen != 1 {
		t.Fatalf("expected ref 7 1, got %+v", tok)
	}
}

func TestScanner_ColorOperatorIsNotReference(t *testing.T) {
	s := newScanner(t, "0 0 1 RG", Config{})
	for i := 0; i < 3; i++ {
		if tok := nextToken(t, s); tok.Type != TokenNumber {
			t.Fatalf("operand %d: expected number, got %+v", i, tok)
		}
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
}

func TestScanner_Reals(t *testing.T) {
	s := newScanner(t, "-3.5 .25 4. --2", Config{})
	for _, want := range []float64{-3.5, 0.25, 4, 2} {
		tok := nextToken(t, s)
		if tok.Type != TokenNumber || tok.Number() != want {
			t.Fatalf("expected %v, got %+v", want, tok)
		}
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "stream\r\nabc endstream not\nendstream", Config{})
	s.SetNextStreamLength(3)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != "not" {
		t.Fatalf("unexpected token after stream %+v", tok)
	}
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	s := newScanner(t, "stream\nhello world\nendstream\nendobj", Config{})
	s.SetNextStreamLength(999)
	tok := nextToken(t, s)
	if string(tok.Bytes) != "hello world" {
		t.Fatalf("unexpected payload %q", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
}

func TestScanner_StreamCRPrecedingEndstream(t *testing.T) {
	s := newScanner(t, "stream\ndata\r\nendstream", Config{})
	if tok := nextToken(t, s); string(tok.Bytes) != "data" {
		t.Fatalf("unexpected payload %q", tok.Bytes)
	}
}

func TestScanner_SmallWindow(t *testing.T) {
	body := strings.Repeat("x", 300)
	s := newScanner(t, "("+body+") /Next", Config{WindowSize: 16})
	if tok := nextToken(t, s); string(tok.Bytes) != body {
		t.Fatalf("string truncated: %d bytes", len(tok.Bytes))
	}
	if tok := nextToken(t, s); tok.Str != "Next" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestScanner_MaxStringLength(t *testing.T) {
	s := newScanner(t, "(abcdef)", Config{MaxStringLength: 3})
	if _, err := s.Next(); !errors.Is(err, ErrLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}
	s = newScanner(t, "<0102030405>", Config{MaxStringLength: 2})
	if _, err := s.Next(); !errors.Is(err, ErrLimit) {
		t.Fatalf("expected limit error for hex, got %v", err)
	}
}

func TestScanner_MaxDepth(t *testing.T) {
	s := newScanner(t, "[[[1]]]", Config{MaxDepth: 2})
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		_, err = s.Next()
	}
	if !errors.Is(err, ErrLimit) {
		t.Fatalf("expected depth limit error, got %v", err)
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "BI /W 2 /H 1 /BPC 8 /CS /G ID \x10\x20 EI Q", Config{})
	for {
		tok := nextToken(t, s)
		if tok.Type == TokenInlineImage {
			if !bytes.Equal(tok.Bytes, []byte{0x10, 0x20}) {
				t.Fatalf("unexpected inline data %x", tok.Bytes)
			}
			break
		}
	}
	if tok := nextToken(t, s); tok.Str != "Q" {
		t.Fatalf("expected Q after EI, got %+v", tok)
	}
}

func TestScanner_Seek(t *testing.T) {
	s := newScanner(t, "/A /B /C", Config{})
	if err := s.Seek(3); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if tok := nextToken(t, s); tok.Str != "B" {
		t.Fatalf("expected B after seek, got %+v", tok)
	}
}
