package extractor

import (
	"strings"

	"github.com/referto-app/referto/ir/raw"
	"github.com/referto-app/referto/scanner"
)

// PageText captures extracted text per page along with optional labels.
type PageText struct {
	Page    int
	Label   string
	Content string
}

// ExtractText returns the text layer of every page, in page order. Pages
// without text are included with empty Content.
func (e *Extractor) ExtractText() ([]PageText, error) {
	out := make([]PageText, 0, len(e.pages))
	for idx := range e.pages {
		txt, err := e.PageText(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, PageText{Page: idx, Label: e.pageLabels[idx], Content: txt})
	}
	return out, nil
}

// PageText returns the text layer of a single page.
func (e *Extractor) PageText(index int) (string, error) {
	page, err := e.page(index)
	if err != nil {
		return "", err
	}
	w := &textWriter{}
	res := e.resources(page)
	for _, data := range e.contentStreams(e.inherited(page, "Contents")) {
		e.interpretText(data, res, w, 0)
	}
	return strings.TrimSpace(w.String()), nil
}

func (e *Extractor) contentStreams(obj raw.Object) [][]byte {
	if arr, ok := e.raw.ArrayOf(obj); ok {
		var combined [][]byte
		for _, item := range arr.Items {
			combined = append(combined, e.contentStreams(item)...)
		}
		return combined
	}
	if data, _ := e.streamBytes(obj); data != nil {
		return [][]byte{data}
	}
	return nil
}

// textWriter accumulates shown text, collapsing repeated separators.
type textWriter struct {
	strings.Builder
	last byte
}

func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	w.WriteString(s)
	w.last = s[len(s)-1]
}

func (w *textWriter) newline() {
	if w.Len() > 0 && w.last != '\n' {
		w.WriteByte('\n')
		w.last = '\n'
	}
}

func (w *textWriter) space() {
	if w.Len() > 0 && w.last != ' ' && w.last != '\n' {
		w.WriteByte(' ')
		w.last = ' '
	}
}

const maxFormDepth = 8

// kerningSpace is the TJ displacement, in thousandths of an em, above which
// a gap is treated as a word break.
const kerningSpace = 200

func (e *Extractor) interpretText(data []byte, res *raw.DictObj, w *textWriter, depth int) {
	fonts := e.fontDecodersFor(res)
	tr := raw.NewTokenReader(scanner.NewBytes(data, scanner.Config{MaxDepth: 64}))
	var operands []raw.Object
	var font *fontDecoder
	lastY, haveY := 0.0, false

	for {
		tok, err := tr.Next()
		if err != nil {
			return
		}
		if tok.Type == scanner.TokenInlineImage {
			operands = operands[:0]
			continue
		}
		if tok.Type == scanner.TokenKeyword && (tok.Str == "]" || tok.Str == ">>") {
			// stray closer
			continue
		}
		if tok.Type != scanner.TokenKeyword {
			tr.Unread(tok)
			operand, err := raw.ReadObject(tr)
			if err != nil {
				return
			}
			operands = append(operands, operand)
			continue
		}

		switch tok.Str {
		case "BT":
			haveY = false
			w.newline()
		case "Tf":
			if len(operands) >= 2 {
				if name, ok := operands[len(operands)-2].(raw.NameObj); ok {
					font = fonts[name.Val]
				}
			}
		case "Tj":
			if s, ok := lastString(operands); ok {
				w.text(font.decode(s))
			}
		case "'", "\"":
			w.newline()
			if s, ok := lastString(operands); ok {
				w.text(font.decode(s))
			}
		case "TJ":
			if len(operands) == 0 {
				break
			}
			arr, _ := operands[len(operands)-1].(*raw.ArrayObj)
			if arr == nil {
				break
			}
			for _, item := range arr.Items {
				switch v := item.(type) {
				case raw.StringObj:
					w.text(font.decode(v.Bytes))
				case raw.NumberObj:
					if v.Float() < -kerningSpace {
						w.space()
					}
				}
			}
		case "T*":
			w.newline()
		case "Td", "TD":
			if len(operands) >= 2 {
				dx, _ := operands[len(operands)-2].(raw.NumberObj)
				dy, _ := operands[len(operands)-1].(raw.NumberObj)
				if dy.Float() != 0 {
					w.newline()
				} else if dx.Float() > 0 {
					w.space()
				}
			}
		case "Tm":
			if len(operands) >= 6 {
				y, _ := operands[len(operands)-1].(raw.NumberObj)
				if haveY && y.Float() != lastY {
					w.newline()
				} else if haveY {
					w.space()
				}
				lastY, haveY = y.Float(), true
			}
		case "Do":
			if depth < maxFormDepth && len(operands) > 0 {
				if name, ok := operands[len(operands)-1].(raw.NameObj); ok {
					e.interpretForm(name.Val, res, w, depth)
				}
			}
		}
		operands = operands[:0]
	}
}

func (e *Extractor) interpretForm(name string, res *raw.DictObj, w *textWriter, depth int) {
	xobjects, ok := e.raw.DictOf(res.Value("XObject"))
	if !ok {
		return
	}
	data, s := e.streamBytes(xobjects.KV[name])
	if s == nil {
		return
	}
	if sub, _ := s.Dict.Name("Subtype"); sub != "Form" {
		return
	}
	formRes, ok := e.raw.DictOf(s.Dict.KV["Resources"])
	if !ok {
		formRes = res
	}
	e.interpretText(data, formRes, w, depth+1)
}

func lastString(operands []raw.Object) ([]byte, bool) {
	if len(operands) == 0 {
		return nil, false
	}
	s, ok := operands[len(operands)-1].(raw.StringObj)
	return s.Bytes, ok
}
