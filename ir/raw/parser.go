package raw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/referto-app/referto/scanner"
)

// ParserConfig controls raw parsing behavior.
type ParserConfig struct {
	Scanner scanner.Config
	// MaxObjects stops parsing once this many objects were read. Zero means no limit.
	MaxObjects int
}

// NewParser constructs a raw.Parser that reads objects sequentially.
func NewParser(cfg ParserConfig) Parser {
	return &parserImpl{cfg: cfg}
}

type parserImpl struct {
	cfg ParserConfig
}

// Parse scans the whole file for "N G obj ... endobj" blocks instead of
// trusting the cross-reference table, so damaged or truncated files still
// yield their objects. Later definitions of the same reference win, which
// matches incremental-update semantics.
func (p *parserImpl) Parse(ctx context.Context, r io.ReaderAt) (*Document, error) {
	version, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	s := scanner.New(r, p.cfg.Scanner)
	tr := NewTokenReader(s)
	doc := &Document{
		Objects: make(map[ObjectRef]Object),
		Trailer: Dict(),
		Version: version,
	}

	for {
		if len(doc.Objects)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if p.cfg.MaxObjects > 0 && len(doc.Objects) >= p.cfg.MaxObjects {
			break
		}
		pos := s.Position()
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, scanner.ErrLimit) {
				return nil, err
			}
			// Skip unreadable garbage one byte at a time.
			tr.Reset()
			if s.Seek(pos+1) != nil {
				break
			}
			continue
		}

		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			if obj, err := ReadObject(tr); err == nil {
				if d, ok := obj.(*DictObj); ok {
					mergeTrailer(doc.Trailer, d)
				}
			}
			continue
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			continue
		}
		genTok, err := tr.Next()
		if err != nil {
			continue
		}
		if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
			tr.Unread(genTok)
			continue
		}
		kwTok, err := tr.Next()
		if err != nil {
			continue
		}
		if kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
			tr.Unread(kwTok)
			tr.Unread(genTok)
			continue
		}

		ref := ObjectRef{Num: int(tok.Int), Gen: int(genTok.Int)}
		obj, err := ReadObject(tr)
		if err != nil {
			if errors.Is(err, scanner.ErrLimit) {
				return nil, fmt.Errorf("parse object %s: %w", ref, err)
			}
			continue
		}

		if dict, ok := obj.(*DictObj); ok {
			if n, ok := dict.Get("Length"); ok {
				if num, ok := n.(NumberObj); ok && num.IsInt {
					s.SetNextStreamLength(num.I)
				}
			}
			if streamTok, err := tr.Next(); err == nil {
				if streamTok.Type == scanner.TokenStream {
					obj = NewStream(dict, streamTok.Bytes)
				} else {
					tr.Unread(streamTok)
				}
			}
			s.SetNextStreamLength(-1)
			if t, ok := dict.Name("Type"); ok && t == "XRef" {
				mergeTrailer(doc.Trailer, dict)
			}
		}
		if t, err := tr.Next(); err == nil {
			if t.Type != scanner.TokenKeyword || t.Str != "endobj" {
				tr.Unread(t)
			}
		}
		doc.Objects[ref] = obj
	}

	// A catalog packed in an object stream only becomes visible once the
	// streams are decoded; ResolveCatalog runs again at that point.
	if err := ResolveCatalog(doc); err != nil && !hasObjectStreams(doc) {
		return nil, err
	}
	if _, ok := doc.Trailer.Get("Encrypt"); ok {
		doc.Encrypted = true
	}
	doc.Metadata = ReadInfo(doc)
	return doc, nil
}

// readHeader locates "%PDF-" within the first KiB and returns the version.
func readHeader(r io.ReaderAt) (string, error) {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	buf = buf[:n]
	i := bytes.Index(buf, []byte("%PDF-"))
	if i < 0 {
		return "", ErrNotPDF
	}
	v := buf[i+5:]
	end := bytes.IndexAny(v, "\r\n \t%")
	if end >= 0 {
		v = v[:end]
	}
	return string(v), nil
}

// mergeTrailer copies the keys of src into dst. Trailers are seen in file
// order, so the newest incremental update wins. Stream bookkeeping keys are
// skipped.
func mergeTrailer(dst, src *DictObj) {
	for k, v := range src.KV {
		switch k {
		case "Length", "Filter", "DecodeParms", "W", "Index", "Type", "Prev":
			continue
		}
		dst.Set(k, v)
	}
}

// ResolveCatalog makes the trailer /Root point at a catalog dictionary. When
// the trailer names none, or names a missing object, the highest-numbered
// /Type /Catalog object is used.
func ResolveCatalog(doc *Document) error {
	if _, err := doc.Catalog(); err == nil {
		return nil
	}
	ref, ok := findCatalog(doc)
	if !ok {
		return ErrNoCatalog
	}
	doc.Trailer.Set("Root", RefObj{R: ref})
	return nil
}

func hasObjectStreams(doc *Document) bool {
	for _, obj := range doc.Objects {
		if s, ok := obj.(*StreamObj); ok && s.Dict != nil {
			if t, _ := s.Dict.Name("Type"); t == "ObjStm" {
				return true
			}
		}
	}
	return false
}

func findCatalog(doc *Document) (ObjectRef, bool) {
	var best ObjectRef
	found := false
	for ref, obj := range doc.Objects {
		d, ok := obj.(*DictObj)
		if !ok {
			continue
		}
		if t, _ := d.Name("Type"); t != "Catalog" {
			continue
		}
		if !found || ref.Num > best.Num {
			best, found = ref, true
		}
	}
	return best, found
}

// ReadInfo reads the trailer /Info dictionary.
func ReadInfo(doc *Document) DocumentMetadata {
	var md DocumentMetadata
	info, ok := doc.DictOf(doc.Trailer.KV["Info"])
	if !ok {
		return md
	}
	text := func(key string) string {
		if o, ok := info.Get(key); ok {
			if s, ok := doc.Resolve(o).(StringObj); ok {
				return strings.TrimSpace(s.Text())
			}
		}
		return ""
	}
	md.Title = text("Title")
	md.Author = text("Author")
	md.Subject = text("Subject")
	md.Creator = text("Creator")
	md.Producer = text("Producer")
	return md
}

// ReadObject parses the next complete object from tr.
func ReadObject(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	return objectFromToken(tr, tok)
}

func objectFromToken(tr *TokenReader, tok scanner.Token) (Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		return parseArray(tr)
	case scanner.TokenDict:
		return parseDict(tr)
	}
	return nil, fmt.Errorf("unexpected token %v %q", tok.Type, tok.Str)
}

func parseArray(tr *TokenReader) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		item, err := objectFromToken(tr, tok)
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, item)
	}
}

func parseDict(tr *TokenReader) (Object, error) {
	d := Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict, got %v", tok.Type)
		}
		val, err := ReadObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

// TokenReader wraps a scanner with a pushback buffer.
type TokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

// Unread pushes tok back; tokens are returned in LIFO order.
func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// Reset drops pushed-back tokens.
func (r *TokenReader) Reset() { r.buf = r.buf[:0] }
