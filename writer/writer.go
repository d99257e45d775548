// Package writer produces simple text PDFs with the standard Helvetica fonts.
package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"
	"time"

	"github.com/referto-app/referto/ir/raw"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

const (
	// A4 in points.
	A4Width  = 595.28
	A4Height = 841.89
)

type Config struct {
	Version    PDFVersion
	PageWidth  float64
	PageHeight float64
	Margin     float64
	FontSize   float64
	// Compress flate-encodes content and image streams.
	Compress bool
	Title    string
	Producer string
	// Created is written as CreationDate when non-zero.
	Created time.Time
}

// DefaultConfig returns an A4 layout with 11pt body text.
func DefaultConfig() Config {
	return Config{
		Version:    PDF17,
		PageWidth:  A4Width,
		PageHeight: A4Height,
		Margin:     56,
		FontSize:   11,
		Compress:   true,
		Producer:   "referto",
	}
}

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockTitle
	blockPageBreak
	blockImage
)

type block struct {
	kind  blockKind
	text  string
	image image.Image
}

// Document accumulates blocks and lays them out on Write.
type Document struct {
	cfg    Config
	blocks []block
}

func New(cfg Config) *Document {
	def := DefaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.PageWidth <= 0 || cfg.PageHeight <= 0 {
		cfg.PageWidth, cfg.PageHeight = def.PageWidth, def.PageHeight
	}
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = def.FontSize
	}
	if cfg.Producer == "" {
		cfg.Producer = def.Producer
	}
	return &Document{cfg: cfg}
}

func (d *Document) Title(text string)     { d.blocks = append(d.blocks, block{kind: blockTitle, text: text}) }
func (d *Document) Heading(text string)   { d.blocks = append(d.blocks, block{kind: blockHeading, text: text}) }
func (d *Document) Paragraph(text string) { d.blocks = append(d.blocks, block{kind: blockParagraph, text: text}) }
func (d *Document) PageBreak()            { d.blocks = append(d.blocks, block{kind: blockPageBreak}) }

// Image places img scaled to the text width. Pages holding only an image
// are how scanned reports look.
func (d *Document) Image(img image.Image) {
	d.blocks = append(d.blocks, block{kind: blockImage, image: img})
}

type placedImage struct {
	img        image.Image
	x, y, w, h float64
}

type page struct {
	content bytes.Buffer
	images  []placedImage
}

type layout struct {
	cfg   Config
	pages []*page
	cur   *page
	y     float64
}

func (l *layout) newPage() {
	l.cur = &page{}
	l.pages = append(l.pages, l.cur)
	l.y = l.cfg.PageHeight - l.cfg.Margin
}

func (l *layout) textWidth() float64 { return l.cfg.PageWidth - 2*l.cfg.Margin }

func (l *layout) line(font string, size float64, text string) {
	lead := size * 1.35
	if l.y-lead < l.cfg.Margin {
		l.newPage()
	}
	l.y -= lead
	if text == "" {
		return
	}
	fmt.Fprintf(&l.cur.content, "BT /%s %s Tf 1 0 0 1 %s %s Tm %s Tj ET\n",
		font, formatReal(size), formatReal(l.cfg.Margin), formatReal(l.y), literal(encodeWinAnsi(text)))
}

func (l *layout) text(font string, size float64, text string) {
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		lines := wrap(para, font == fontBold, size, l.textWidth())
		if len(lines) == 0 {
			l.line(font, size, "")
			continue
		}
		for _, ln := range lines {
			l.line(font, size, ln)
		}
	}
}

func (l *layout) image(img image.Image) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	w := l.textWidth()
	h := w * float64(b.Dy()) / float64(b.Dx())
	if maxH := l.cfg.PageHeight - 2*l.cfg.Margin; h > maxH {
		w, h = w*maxH/h, maxH
	}
	if l.y-h < l.cfg.Margin {
		l.newPage()
	}
	l.y -= h
	name := fmt.Sprintf("Im%d", len(l.cur.images)+1)
	l.cur.images = append(l.cur.images, placedImage{img: img, x: l.cfg.Margin, y: l.y, w: w, h: h})
	fmt.Fprintf(&l.cur.content, "q %s 0 0 %s %s %s cm /%s Do Q\n",
		formatReal(w), formatReal(h), formatReal(l.cfg.Margin), formatReal(l.y), name)
}

func (d *Document) layout() []*page {
	l := &layout{cfg: d.cfg}
	l.newPage()
	size := d.cfg.FontSize
	for _, b := range d.blocks {
		switch b.kind {
		case blockTitle:
			l.text(fontBold, size*1.8, b.text)
			l.y -= size * 0.6
		case blockHeading:
			l.y -= size * 0.4
			l.text(fontBold, size*1.3, b.text)
		case blockParagraph:
			l.text(fontRegular, size, b.text)
		case blockPageBreak:
			l.newPage()
		case blockImage:
			l.image(b.image)
		}
	}
	return l.pages
}

// WriteTo lays the document out and serializes it with a classic xref table.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	pages := d.layout()
	o := &objectWriter{}

	catalogRef := o.reserve()
	pagesRef := o.reserve()
	regular := o.add(fontDict("Helvetica"))
	bold := o.add(fontDict("Helvetica-Bold"))

	kids := raw.NewArray()
	for _, p := range pages {
		xobjects := raw.Dict()
		for i, pi := range p.images {
			stream, err := d.imageStream(pi.img)
			if err != nil {
				return 0, err
			}
			xobjects.Set(fmt.Sprintf("Im%d", i+1), o.add(stream))
		}
		content, err := d.stream(raw.Dict(), p.content.Bytes())
		if err != nil {
			return 0, err
		}
		fonts := raw.Dict()
		fonts.Set(fontRegular, regular)
		fonts.Set(fontBold, bold)
		res := raw.Dict()
		res.Set("Font", fonts)
		if xobjects.Len() > 0 {
			res.Set("XObject", xobjects)
		}
		pd := raw.Dict()
		pd.Set("Type", raw.Name("Page"))
		pd.Set("Parent", pagesRef)
		pd.Set("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0),
			raw.NumberFloat(d.cfg.PageWidth), raw.NumberFloat(d.cfg.PageHeight)))
		pd.Set("Resources", res)
		pd.Set("Contents", o.add(content))
		kids.Items = append(kids.Items, o.add(pd))
	}

	pd := raw.Dict()
	pd.Set("Type", raw.Name("Pages"))
	pd.Set("Kids", kids)
	pd.Set("Count", raw.NumberInt(int64(len(kids.Items))))
	o.set(pagesRef, pd)

	cat := raw.Dict()
	cat.Set("Type", raw.Name("Catalog"))
	cat.Set("Pages", pagesRef)
	o.set(catalogRef, cat)

	info := raw.Dict()
	info.Set("Producer", textString(d.cfg.Producer))
	if d.cfg.Title != "" {
		info.Set("Title", textString(d.cfg.Title))
	}
	if !d.cfg.Created.IsZero() {
		info.Set("CreationDate", raw.Str([]byte(d.cfg.Created.UTC().Format("D:20060102150405Z"))))
	}
	infoRef := o.add(info)

	return o.writeTo(w, d.cfg.Version, catalogRef, infoRef)
}

// Bytes returns the serialized document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fontDict(base string) *raw.DictObj {
	f := raw.Dict()
	f.Set("Type", raw.Name("Font"))
	f.Set("Subtype", raw.Name("Type1"))
	f.Set("BaseFont", raw.Name(base))
	f.Set("Encoding", raw.Name("WinAnsiEncoding"))
	return f
}

func (d *Document) stream(dict *raw.DictObj, data []byte) (*raw.StreamObj, error) {
	if d.cfg.Compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		data = buf.Bytes()
		dict.Set("Filter", raw.Name("FlateDecode"))
	}
	return raw.NewStream(dict, data), nil
}

// imageStream stores gray images as DeviceGray and everything else as RGB.
func (d *Document) imageStream(img image.Image) (*raw.StreamObj, error) {
	b := img.Bounds()
	dict := raw.Dict()
	dict.Set("Type", raw.Name("XObject"))
	dict.Set("Subtype", raw.Name("Image"))
	dict.Set("Width", raw.NumberInt(int64(b.Dx())))
	dict.Set("Height", raw.NumberInt(int64(b.Dy())))
	dict.Set("BitsPerComponent", raw.NumberInt(8))

	var pix []byte
	if g, ok := img.(*image.Gray); ok {
		dict.Set("ColorSpace", raw.Name("DeviceGray"))
		pix = make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			pix = append(pix, g.Pix[off:off+b.Dx()]...)
		}
	} else {
		dict.Set("ColorSpace", raw.Name("DeviceRGB"))
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		pix = make([]byte, 0, b.Dx()*b.Dy()*3)
		for i := 0; i < len(rgba.Pix); i += 4 {
			pix = append(pix, rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
		}
	}
	return d.stream(dict, pix)
}

// textString encodes s as PDFDocEncoding when possible, else UTF-16BE.
func textString(s string) raw.StringObj {
	ascii := true
	for _, r := range s {
		if r >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return raw.Str([]byte(s))
	}
	b := []byte{0xFE, 0xFF}
	for _, u := range utf16Encode(s) {
		b = append(b, byte(u>>8), byte(u))
	}
	return raw.Str(b)
}
