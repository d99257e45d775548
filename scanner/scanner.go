package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // payload following the 'stream' keyword
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline-image"
	case TokenKeyword:
		return "keyword"
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a single lexical unit. Only the fields relevant to Type are set:
// Str for names and keywords, Bytes for strings and payloads, Int/Float for
// numbers, Int/Gen for references, Bool for booleans.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Gen   int
	Bool  bool
	Pos   int64
}

// Number returns the numeric value of a TokenNumber as float64.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxNameLength   int
	MaxDepth        int
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
}

// ErrLimit is wrapped by every error caused by a Config limit.
var ErrLimit = errors.New("scanner limit exceeded")

func limitErr(what string) error { return fmt.Errorf("%s: %w", what, ErrLimit) }

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	depth         int
}

// New returns a scanner reading from r.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

// NewBytes is a shorthand for scanning an in-memory buffer.
func NewBytes(data []byte, cfg Config) Scanner {
	return New(bytes.NewReader(data), cfg)
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes data[n] addressable, reading more windows as needed. It
// returns io.EOF when n lies beyond the end of the input.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	n, err := s.reader.ReadAt(buf, int64(len(s.data)))
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) peek(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++
	var out bytes.Buffer
	for s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		s.pos++
		if c == '#' && isHex(s.peek(0)) && isHex(s.peek(1)) {
			out.WriteByte(fromHex(s.data[s.pos])<<4 | fromHex(s.data[s.pos+1]))
			s.pos += 2
		} else {
			out.WriteByte(c)
		}
		if s.cfg.MaxNameLength > 0 && out.Len() > s.cfg.MaxNameLength {
			return Token{}, limitErr("name too long")
		}
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		if err := s.ensure(s.pos); err != nil {
			return Token{}, errors.New("unterminated literal string")
		}
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if err := s.ensure(s.pos); err != nil {
				return Token{}, errors.New("unterminated literal string")
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.peek(0) == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2; k++ {
					d := s.peek(0)
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, limitErr("literal string too long")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++
	var nibbles []byte
	for {
		if err := s.ensure(s.pos); err != nil {
			return Token{}, errors.New("unterminated hex string")
		}
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if isHex(c) {
			nibbles = append(nibbles, c)
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, limitErr("hex string too long")
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = fromHex(nibbles[2*i])<<4 | fromHex(nibbles[2*i+1])
	}
	return Token{Type: TokenString, Bytes: out, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.ensure(s.pos) == nil && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if isUnsignedInt(first) {
		save := s.pos
		if s.skipWSAndComments() == nil {
			second := s.scanNumberString()
			if isUnsignedInt(second) && s.skipWSAndComments() == nil && s.data[s.pos] == 'R' {
				next := s.peek(1)
				if next == 0 || isDelimiter(next) {
					s.pos++
					num, _ := strconv.ParseInt(first, 10, 64)
					gen, _ := strconv.Atoi(second)
					return Token{Type: TokenRef, Int: num, Gen: gen, Pos: start}, nil
				}
			}
		}
		s.pos = save
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(normalizeReal(first), 64)
	if err != nil {
		return Token{Type: TokenNumber, Pos: start}, nil
	}
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.ensure(s.pos) == nil {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c != '+' && c != '-' && c != '.' {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// scanStream consumes the payload after a 'stream' keyword up to 'endstream'.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	switch s.peek(0) {
	case '\r':
		s.pos++
		if s.peek(0) == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	case ' ':
		// Tolerated: some producers emit "stream \n".
		s.pos++
		if s.peek(0) == '\r' {
			s.pos++
		}
		if s.peek(0) == '\n' {
			s.pos++
		}
	default:
		return Token{}, errors.New("stream missing EOL before data")
	}
	dataStart := s.pos
	defer func() { s.nextStreamLen = -1 }()

	if l := s.nextStreamLen; l >= 0 {
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, limitErr("stream too long")
		}
		end := dataStart + l
		_ = s.ensure(end + int64(len(endstream)) + 2)
		if end <= int64(len(s.data)) && s.endstreamAt(end) {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.skipEndstream(end)
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
		// Declared length is wrong; fall through to scanning.
	}

	for i := dataStart; ; i++ {
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			return Token{}, limitErr("endstream not found within scan limit")
		}
		if err := s.ensure(i + int64(len(endstream)) - 1); err != nil {
			return Token{}, errors.New("endstream not found")
		}
		if s.data[i] != 'e' || !bytes.HasPrefix(s.data[i:], endstream) {
			continue
		}
		if i > dataStart && !isWhitespace(s.data[i-1]) {
			continue
		}
		end := i
		if end > dataStart && s.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
		if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
			return Token{}, limitErr("stream too long")
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = i + int64(len(endstream))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
}

var endstream = []byte("endstream")

// endstreamAt reports whether 'endstream' follows offset, allowing one EOL.
func (s *pdfScanner) endstreamAt(off int64) bool {
	for k := 0; k < 3 && off < int64(len(s.data)); k++ {
		if bytes.HasPrefix(s.data[off:], endstream) {
			return true
		}
		if !isWhitespace(s.data[off]) {
			return false
		}
		off++
	}
	return false
}

func (s *pdfScanner) skipEndstream(off int64) {
	idx := bytes.Index(s.data[off:], endstream)
	s.pos = off + int64(idx+len(endstream))
}

// scanInlineImage consumes bytes after the ID keyword until an EI delimiter
// preceded by whitespace.
func (s *pdfScanner) scanInlineImage(start int64) (Token, error) {
	if !isWhitespace(s.peek(0)) {
		return Token{}, errors.New("inline image missing whitespace after ID")
	}
	s.pos++
	dataStart := s.pos
	for i := dataStart; ; i++ {
		if s.cfg.MaxInlineImage > 0 && i-dataStart > s.cfg.MaxInlineImage {
			return Token{}, limitErr("inline image too long")
		}
		if err := s.ensure(i + 1); err != nil {
			return Token{}, errors.New("unterminated inline image")
		}
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		if i == dataStart || !isWhitespace(s.data[i-1]) {
			continue
		}
		if s.ensure(i+2) == nil && !isDelimiter(s.data[i+2]) {
			continue
		}
		payload := append([]byte(nil), s.data[dataStart:i-1]...)
		s.pos = i + 2
		return Token{Type: TokenInlineImage, Bytes: payload, Pos: start}, nil
	}
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray, TokenDict:
		s.depth++
		if s.cfg.MaxDepth > 0 && s.depth > s.cfg.MaxDepth {
			return Token{}, limitErr("nesting depth exceeded")
		}
	case TokenKeyword:
		if s.depth > 0 {
			s.depth--
		}
	}
	return tok, nil
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func isRegular(c byte) bool { return !isDelimiter(c) }

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isUnsignedInt(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeReal tolerates producer quirks such as "--5" or "1.2.3".
func normalizeReal(s string) string {
	neg := false
	for len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			neg = !neg
		}
		s = s[1:]
	}
	if i := bytes.IndexByte([]byte(s), '.'); i >= 0 {
		rest := bytes.ReplaceAll([]byte(s[i+1:]), []byte("."), nil)
		s = s[:i+1] + string(rest)
	}
	if neg {
		return "-" + s
	}
	return s
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}
