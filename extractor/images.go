package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/ccitt"

	"github.com/referto-app/referto/filters"
	"github.com/referto-app/referto/ir/raw"
)

var ErrUnsupportedImage = errors.New("unsupported image encoding")

// ImageAsset represents an image XObject found on a page.
type ImageAsset struct {
	Page             int
	ResourceName     string
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       string
	Components       int
	// Palette is set for Indexed color spaces.
	Palette color.Palette
	// Filter is the image codec still applied to Data, if any.
	Filter      string
	FilterParms *raw.DictObj
	// Invert is set when the Decode array flips the sample range.
	Invert    bool
	ImageMask bool
	Data      []byte
}

// ExtractImages returns the image XObjects of every page.
func (e *Extractor) ExtractImages() ([]ImageAsset, error) {
	var assets []ImageAsset
	for idx := range e.pages {
		page, err := e.PageImages(idx)
		if err != nil {
			return nil, err
		}
		assets = append(assets, page...)
	}
	return assets, nil
}

// PageImages returns the image XObjects reachable from a page's resources,
// including those nested in form XObjects.
func (e *Extractor) PageImages(index int) ([]ImageAsset, error) {
	page, err := e.page(index)
	if err != nil {
		return nil, err
	}
	var assets []ImageAsset
	seen := make(map[raw.ObjectRef]bool)
	e.collectImages(index, e.resources(page), seen, &assets, 0)
	return assets, nil
}

func (e *Extractor) collectImages(pageIdx int, res *raw.DictObj, seen map[raw.ObjectRef]bool, out *[]ImageAsset, depth int) {
	xobjects, ok := e.raw.DictOf(res.Value("XObject"))
	if !ok || depth > maxFormDepth {
		return
	}
	for _, name := range xobjects.Keys() {
		obj := xobjects.KV[name]
		ref, isRef := obj.(raw.RefObj)
		if isRef {
			if seen[ref.R] {
				continue
			}
			seen[ref.R] = true
		}
		data, s := e.streamBytes(obj)
		if s == nil {
			continue
		}
		switch sub, _ := s.Dict.Name("Subtype"); sub {
		case "Image":
			asset := e.imageAsset(pageIdx, name, s.Dict, data)
			asset.Filter, asset.FilterParms = s.ImageFilter, s.ImageParams
			*out = append(*out, asset)
		case "Form":
			if formRes, ok := e.raw.DictOf(s.Dict.KV["Resources"]); ok {
				e.collectImages(pageIdx, formRes, seen, out, depth+1)
			}
		}
	}
}

func (e *Extractor) imageAsset(pageIdx int, name string, dict *raw.DictObj, data []byte) ImageAsset {
	width, _ := e.raw.IntOf(dict.KV["Width"])
	height, _ := e.raw.IntOf(dict.KV["Height"])
	bpc, _ := e.raw.IntOf(dict.KV["BitsPerComponent"])
	asset := ImageAsset{
		Page:             pageIdx,
		ResourceName:     name,
		Width:            int(width),
		Height:           int(height),
		BitsPerComponent: int(bpc),
		Data:             data,
	}
	if mask, ok := e.raw.Resolve(dict.KV["ImageMask"]).(raw.BoolObj); ok && mask.V {
		asset.ImageMask = true
		asset.BitsPerComponent = 1
		asset.ColorSpace = "DeviceGray"
		asset.Components = 1
	} else {
		asset.ColorSpace, asset.Components, asset.Palette = e.colorSpace(dict.KV["ColorSpace"], 0)
	}
	if dec, ok := e.raw.ArrayOf(dict.KV["Decode"]); ok && len(dec.Items) >= 2 {
		lo, _ := e.raw.FloatOf(dec.Items[0])
		hi, _ := e.raw.FloatOf(dec.Items[1])
		asset.Invert = lo > hi
	}
	return asset
}

// colorSpace reduces a color space to its family, component count and,
// for Indexed spaces, the palette.
func (e *Extractor) colorSpace(obj raw.Object, depth int) (string, int, color.Palette) {
	if depth > 4 {
		return "", 0, nil
	}
	switch cs := e.raw.Resolve(obj).(type) {
	case raw.NameObj:
		switch cs.Val {
		case "DeviceGray", "CalGray", "G":
			return "DeviceGray", 1, nil
		case "DeviceRGB", "CalRGB", "RGB":
			return "DeviceRGB", 3, nil
		case "DeviceCMYK", "CMYK":
			return "DeviceCMYK", 4, nil
		}
		return cs.Val, 0, nil
	case *raw.ArrayObj:
		if len(cs.Items) == 0 {
			return "", 0, nil
		}
		family, _ := e.raw.NameOf(cs.Items[0])
		switch family {
		case "ICCBased":
			if len(cs.Items) > 1 {
				if d, ok := e.raw.DictOf(cs.Items[1]); ok {
					switch n, _ := e.raw.IntOf(d.KV["N"]); n {
					case 1:
						return "DeviceGray", 1, nil
					case 3:
						return "DeviceRGB", 3, nil
					case 4:
						return "DeviceCMYK", 4, nil
					}
				}
			}
		case "CalGray", "CalRGB":
			return e.colorSpace(cs.Items[0], depth+1)
		case "Indexed", "I":
			if len(cs.Items) < 4 {
				return "Indexed", 1, nil
			}
			_, baseN, _ := e.colorSpace(cs.Items[1], depth+1)
			var lookup []byte
			switch l := e.raw.Resolve(cs.Items[3]).(type) {
			case raw.StringObj:
				lookup = l.Bytes
			case *raw.StreamObj:
				lookup, _ = e.streamBytes(cs.Items[3])
			}
			return "Indexed", 1, buildPalette(lookup, baseN)
		}
		return family, 0, nil
	}
	return "", 0, nil
}

func buildPalette(lookup []byte, n int) color.Palette {
	if n <= 0 {
		return nil
	}
	var pal color.Palette
	for i := 0; i+n <= len(lookup) && len(pal) < 256; i += n {
		c := lookup[i : i+n]
		switch n {
		case 1:
			pal = append(pal, color.Gray{Y: c[0]})
		case 3:
			pal = append(pal, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
		case 4:
			pal = append(pal, color.CMYK{C: c[0], M: c[1], Y: c[2], K: c[3]})
		}
	}
	return pal
}

// ToImage converts the image data into a standard Go image.Image.
func (i ImageAsset) ToImage() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, errors.New("image data is empty")
	}
	switch i.Filter {
	case "DCTDecode":
		img, err := jpeg.Decode(bytes.NewReader(i.Data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		return img, nil
	case "CCITTFaxDecode":
		return i.ccittImage()
	case "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, i.Filter)
	}

	if err := filters.ValidateImageBounds(i.Width, i.Height); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, i.Width, i.Height)
	switch {
	case i.BitsPerComponent == 1 && (i.Components == 1 || i.ImageMask):
		return i.bitImage(rect)
	case i.BitsPerComponent != 8:
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedImage, i.BitsPerComponent)
	case i.Palette != nil:
		pix := i.Data
		if len(pix) < i.Width*i.Height {
			return nil, errShortData(len(pix), i.Width*i.Height)
		}
		img := image.NewPaletted(rect, i.Palette)
		for idx := range img.Pix {
			v := pix[idx]
			if int(v) >= len(i.Palette) {
				v = byte(len(i.Palette) - 1)
			}
			img.Pix[idx] = v
		}
		return img, nil
	}

	pixels := i.Width * i.Height
	comps := i.Components
	if comps == 0 && pixels > 0 {
		comps = len(i.Data) / pixels
	}
	need := pixels * comps
	if comps == 0 || len(i.Data) < need {
		return nil, errShortData(len(i.Data), need)
	}
	data := i.Data[:need]
	if i.Invert {
		inv := make([]byte, need)
		for k, b := range data {
			inv[k] = 255 - b
		}
		data = inv
	}
	switch comps {
	case 1:
		return &image.Gray{Pix: data, Stride: i.Width, Rect: rect}, nil
	case 3:
		return &rgbImage{Pix: data, Stride: i.Width * 3, Rect: rect}, nil
	case 4:
		return &image.CMYK{Pix: data, Stride: i.Width * 4, Rect: rect}, nil
	}
	return nil, fmt.Errorf("%w: %d components", ErrUnsupportedImage, comps)
}

// bitImage expands 1-bit samples, where 0 is black unless inverted. Stencil
// masks paint where the sample is 0, which renders the same way.
func (i ImageAsset) bitImage(rect image.Rectangle) (image.Image, error) {
	stride := (i.Width + 7) / 8
	if len(i.Data) < stride*i.Height {
		return nil, errShortData(len(i.Data), stride*i.Height)
	}
	invert := i.Invert
	img := image.NewGray(rect)
	for y := 0; y < i.Height; y++ {
		row := i.Data[y*stride:]
		for x := 0; x < i.Width; x++ {
			bit := row[x/8]>>(7-uint(x%8))&1 == 1
			if bit != invert {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img, nil
}

func (i ImageAsset) ccittImage() (image.Image, error) {
	if err := filters.ValidateImageBounds(i.Width, i.Height); err != nil {
		return nil, err
	}
	k, cols := int64(0), int64(1728)
	blackIs1, align := false, false
	if p := i.FilterParms; p != nil {
		if v, ok := p.Value("K").(raw.NumberObj); ok {
			k = v.Int()
		}
		if v, ok := p.Value("Columns").(raw.NumberObj); ok {
			cols = v.Int()
		}
		if v, ok := p.Value("BlackIs1").(raw.BoolObj); ok {
			blackIs1 = v.V
		}
		if v, ok := p.Value("EncodedByteAlign").(raw.BoolObj); ok {
			align = v.V
		}
	}
	width := i.Width
	if cols > 0 && int(cols) != width {
		width = int(cols)
	}
	sf := ccitt.Group3
	if k < 0 {
		sf = ccitt.Group4
	}
	img := image.NewGray(image.Rect(0, 0, width, i.Height))
	opts := &ccitt.Options{Align: align, Invert: blackIs1 != i.Invert}
	if err := ccitt.DecodeIntoGray(img, bytes.NewReader(i.Data), ccitt.MSB, sf, opts); err != nil {
		return nil, fmt.Errorf("decode ccitt: %w", err)
	}
	return img, nil
}

// ToPNG encodes the image asset to PNG format.
func (i ImageAsset) ToPNG() ([]byte, error) {
	img, err := i.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func errShortData(got, want int) error {
	return fmt.Errorf("image data too short: got %d bytes, want %d", got, want)
}

type rgbImage struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (p *rgbImage) ColorModel() color.Model { return color.RGBAModel }
func (p *rgbImage) Bounds() image.Rectangle { return p.Rect }
func (p *rgbImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 255}
}
