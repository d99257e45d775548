// Package filters decodes PDF stream filters.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"errors"
	"fmt"
	"io"
	"time"

	tifflzw "golang.org/x/image/tiff/lzw"

	"github.com/referto-app/referto/ir/raw"
)

var ErrLimitExceeded = errors.New("decompressed size exceeds limit")

// UnsupportedError reports a filter the pipeline has no decoder for.
type UnsupportedError struct {
	Filter string
}

func (e UnsupportedError) Error() string { return "unsupported filter: " + e.Filter }

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder, len(decoders)), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// DefaultPipeline returns a pipeline with every non-image decoder.
func DefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(limits.MaxDecompressedSize),
		NewLZWDecoder(limits.MaxDecompressedSize),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, limits)
}

// Result is the output of a pipeline run. When the chain ends in an image
// codec, decoding stops before it and ImageFilter names the codec.
type Result struct {
	Data        []byte
	ImageFilter string
	ImageParams *raw.DictObj
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, names []string, params []*raw.DictObj) (Result, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name = Canonical(name)
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		if IsImageFilter(name) {
			return Result{Data: data, ImageFilter: name, ImageParams: param}, nil
		}
		dec, ok := p.decoders[name]
		if !ok {
			return Result{}, UnsupportedError{Filter: name}
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return Result{}, ErrLimitExceeded
		}
		data = out
	}
	return Result{Data: data}, nil
}

// IsImageFilter reports whether name is an image codec rather than a
// general-purpose filter.
func IsImageFilter(name string) bool {
	switch Canonical(name) {
	case "DCTDecode", "JPXDecode", "CCITTFaxDecode", "JBIG2Decode":
		return true
	}
	return false
}

// Canonical expands the abbreviated filter names allowed in inline images.
func Canonical(name string) string {
	switch name {
	case "Fl":
		return "FlateDecode"
	case "LZW":
		return "LZWDecode"
	case "A85":
		return "ASCII85Decode"
	case "AHx":
		return "ASCIIHexDecode"
	case "RL":
		return "RunLengthDecode"
	case "DCT":
		return "DCTDecode"
	case "CCF":
		return "CCITTFaxDecode"
	}
	return name
}

// readAllLimited reads r fully, failing once more than max bytes arrive.
// A truncated stream keeps whatever was decoded before the error.
func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	var out bytes.Buffer
	_, err := io.Copy(&out, r)
	if max > 0 && int64(out.Len()) > max {
		return nil, ErrLimitExceeded
	}
	if err != nil {
		if out.Len() > 0 && (errors.Is(err, io.ErrUnexpectedEOF) || isCorrupt(err)) {
			return out.Bytes(), nil
		}
		return nil, err
	}
	return out.Bytes(), nil
}

func isCorrupt(err error) bool {
	var ce flate.CorruptInputError
	return errors.As(err, &ce) || errors.Is(err, zlib.ErrChecksum)
}

type flateDecoder struct{ max int64 }

func (flateDecoder) Name() string { return "FlateDecode" }

// NewFlateDecoder handles zlib-wrapped and raw deflate data. max bounds the
// output size; zero disables the bound.
func NewFlateDecoder(max int64) Decoder { return flateDecoder{max: max} }

func (d flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err == nil {
		r = zr
	} else {
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()
	out, err := readAllLimited(r, d.max)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

type lzwDecoder struct{ max int64 }

func (lzwDecoder) Name() string { return "LZWDecode" }

func NewLZWDecoder(max int64) Decoder { return lzwDecoder{max: max} }

func (d lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	earlyChange := int64(1)
	if n, ok := intParam(params, "EarlyChange"); ok {
		earlyChange = n
	}
	var r io.ReadCloser
	if earlyChange == 0 {
		r = lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	} else {
		r = tifflzw.NewReader(bytes.NewReader(in), tifflzw.MSB, 8)
	}
	defer r.Close()
	out, err := readAllLimited(r, d.max)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out := make([]byte, 0, len(in)/2)
	var hi byte
	half := false
	for _, c := range in {
		if c == '>' {
			break
		}
		v, ok := hexVal(c)
		if !ok {
			if isSpace(c) {
				continue
			}
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	// odd digit count: the last nibble is padded with 0
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				end = len(in)
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return out.Bytes(), nil
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-n))
			i++
		}
	}
	return out.Bytes(), nil
}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}
