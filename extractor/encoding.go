package extractor

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/referto-app/referto/ir/raw"
)

type fontDecoder struct {
	cmap    *toUnicodeMap
	twoByte bool
	table   [256]rune
}

var (
	winAnsiTable   = tableFrom(charmap.Windows1252)
	macRomanTable  = tableFrom(charmap.Macintosh)
	defaultDecoder = &fontDecoder{table: winAnsiTable}
)

func tableFrom(cm *charmap.Charmap) [256]rune {
	var t [256]rune
	for i := range t {
		t[i] = cm.DecodeByte(byte(i))
	}
	return t
}

// decode converts a shown string to text. Composite fonts without a
// ToUnicode map yield nothing, so such pages read as empty and fall back to
// OCR instead of producing garbage.
func (d *fontDecoder) decode(data []byte) string {
	if d == nil {
		d = defaultDecoder
	}
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF && d.cmap == nil {
		return decodeUTF16BE(data[2:])
	}
	if d.cmap != nil {
		return d.cmap.decode(data, d.twoByte)
	}
	if d.twoByte {
		return ""
	}
	var b strings.Builder
	for _, c := range data {
		if r := d.table[c]; r != 0 && r != 0xFFFD {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (e *Extractor) fontDecodersFor(resources *raw.DictObj) map[string]*fontDecoder {
	fonts, ok := e.raw.DictOf(resources.Value("Font"))
	if !ok {
		return nil
	}
	decoders := make(map[string]*fontDecoder, fonts.Len())
	for name, obj := range fonts.KV {
		decoders[name] = e.fontDecoder(obj)
	}
	return decoders
}

func (e *Extractor) fontDecoder(obj raw.Object) *fontDecoder {
	ref, isRef := obj.(raw.RefObj)
	if isRef {
		if cached, ok := e.fontCache[ref.R]; ok {
			return cached
		}
	}
	d := e.parseFontDecoder(obj)
	if isRef {
		e.fontCache[ref.R] = d
	}
	return d
}

func (e *Extractor) parseFontDecoder(obj raw.Object) *fontDecoder {
	dict, ok := e.raw.DictOf(obj)
	if !ok {
		return defaultDecoder
	}
	d := &fontDecoder{table: winAnsiTable}
	if sub, _ := dict.Name("Subtype"); sub == "Type0" {
		d.twoByte = true
	}
	if data, _ := e.streamBytes(dict.KV["ToUnicode"]); len(data) > 0 {
		d.cmap = parseToUnicodeCMap(data)
	}

	switch enc := e.raw.Resolve(dict.KV["Encoding"]).(type) {
	case raw.NameObj:
		d.applyBase(enc.Val)
	case *raw.DictObj:
		if base, ok := enc.Name("BaseEncoding"); ok {
			d.applyBase(base)
		}
		if diffs, ok := e.raw.ArrayOf(enc.KV["Differences"]); ok {
			d.applyDifferences(diffs)
		}
	}
	return d
}

func (d *fontDecoder) applyBase(name string) {
	switch name {
	case "MacRomanEncoding":
		d.table = macRomanTable
	case "Identity-H", "Identity-V":
		d.twoByte = true
	}
}

func (d *fontDecoder) applyDifferences(diffs *raw.ArrayObj) {
	code := -1
	for _, item := range diffs.Items {
		switch v := item.(type) {
		case raw.NumberObj:
			code = int(v.Int())
		case raw.NameObj:
			if code < 0 || code > 255 {
				continue
			}
			if r, ok := glyphRune(v.Val); ok {
				d.table[code] = r
			}
			code++
		}
	}
}

// glyphRune maps a glyph name to its character: uniXXXX and uXXXX forms,
// single-letter names and a table of common Latin names.
func glyphRune(name string) (rune, bool) {
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	if len(name) == 1 {
		return rune(name[0]), true
	}
	for _, prefix := range []string{"uni", "u"} {
		if strings.HasPrefix(name, prefix) && len(name) >= len(prefix)+4 {
			if v, err := strconv.ParseUint(name[len(prefix):len(prefix)+4], 16, 32); err == nil {
				return rune(v), true
			}
		}
	}
	return 0, false
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "parenleft": '(',
	"parenright": ')', "asterisk": '*', "plus": '+', "comma": ',', "hyphen": '-',
	"period": '.', "slash": '/', "colon": ':', "semicolon": ';', "less": '<',
	"equal": '=', "greater": '>', "question": '?', "at": '@', "bracketleft": '[',
	"backslash": '\\', "bracketright": ']', "underscore": '_', "braceleft": '{',
	"bar": '|', "braceright": '}', "asciitilde": '~', "quoteleft": '‘',
	"quoteright": '’', "quotedblleft": '“', "quotedblright": '”', "endash": '–',
	"emdash": '—', "bullet": '•', "ellipsis": '…', "degree": '°', "plusminus": '±',
	"mu": 'µ', "Euro": '€', "section": '§', "guillemotleft": '«', "guillemotright": '»',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"agrave": 'à', "aacute": 'á', "egrave": 'è', "eacute": 'é', "igrave": 'ì',
	"iacute": 'í', "ograve": 'ò', "oacute": 'ó', "ugrave": 'ù', "uacute": 'ú',
	"Agrave": 'À', "Aacute": 'Á', "Egrave": 'È', "Eacute": 'É', "Igrave": 'Ì',
	"Ograve": 'Ò', "Ugrave": 'Ù', "ccedilla": 'ç', "ntilde": 'ñ', "udieresis": 'ü',
	"odieresis": 'ö', "adieresis": 'ä', "germandbls": 'ß', "fi": 'ﬁ', "fl": 'ﬂ',
	"periodcentered": '·', "multiply": '×', "divide": '÷', "registered": '®',
	"copyright": '©', "trademark": '™', "minus": '−', "ordfeminine": 'ª', "ordmasculine": 'º',
}
