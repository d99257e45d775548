package writer

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	fontRegular = "F1"
	fontBold    = "F2"
)

// Advance widths in 1/1000 em for the printable ASCII range, from the
// standard Helvetica and Helvetica-Bold AFM files.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var helveticaBoldWidths = [95]int{
	278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
	975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
	333, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
	611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
}

func runeWidth(r rune, bold bool) int {
	if r >= 32 && r <= 126 {
		if bold {
			return helveticaBoldWidths[r-32]
		}
		return helveticaWidths[r-32]
	}
	return 556
}

func stringWidth(s string, bold bool, size float64) float64 {
	total := 0
	for _, r := range s {
		total += runeWidth(r, bold)
	}
	return float64(total) * size / 1000
}

// wrap breaks text into lines no wider than width, splitting overlong words.
func wrap(text string, bold bool, size, width float64) []string {
	var lines []string
	var cur string
	for _, word := range strings.Fields(text) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if stringWidth(candidate, bold, size) <= width {
			cur = candidate
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		for stringWidth(word, bold, size) > width {
			cut := fitPrefix(word, bold, size, width)
			lines = append(lines, word[:cut])
			word = word[cut:]
		}
		cur = word
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func fitPrefix(word string, bold bool, size, width float64) int {
	w := 0.0
	for i, r := range word {
		w += float64(runeWidth(r, bold)) * size / 1000
		if w > width {
			if i == 0 {
				return utf8.RuneLen(r)
			}
			return i
		}
	}
	return len(word)
}

// encodeWinAnsi maps text to WinAnsiEncoding, replacing unmappable runes.
func encodeWinAnsi(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			out = append(out, b)
			continue
		}
		out = append(out, '?')
	}
	return out
}
