package document

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// extractPlain decodes UTF-8, falling back to Windows-1252 for files saved
// by older Italian Windows editors.
func extractPlain(data []byte) Result {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := string(data)
	if !utf8.Valid(data) {
		if dec, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
			text = string(dec)
		}
	}
	return Result{Text: text, Pages: []Page{{Method: MethodDirect, Text: text}}}
}
