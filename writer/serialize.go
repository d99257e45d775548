package writer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"unicode/utf16"

	"github.com/referto-app/referto/ir/raw"
)

// objectWriter numbers objects in insertion order starting at 1.
type objectWriter struct {
	objects []raw.Object
}

func (o *objectWriter) reserve() raw.RefObj {
	o.objects = append(o.objects, nil)
	return raw.Ref(len(o.objects), 0)
}

func (o *objectWriter) add(obj raw.Object) raw.RefObj {
	o.objects = append(o.objects, obj)
	return raw.Ref(len(o.objects), 0)
}

func (o *objectWriter) set(ref raw.RefObj, obj raw.Object) {
	o.objects[ref.R.Num-1] = obj
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (o *objectWriter) writeTo(w io.Writer, version PDFVersion, root, info raw.RefObj) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	offsets := make([]int64, len(o.objects))
	for i, obj := range o.objects {
		if obj == nil {
			return cw.n, fmt.Errorf("object %d reserved but never set", i+1)
		}
		offsets[i] = cw.n
		data, err := SerializeObject(raw.ObjectRef{Num: i + 1}, obj)
		if err != nil {
			return cw.n, err
		}
		if _, err := cw.Write(data); err != nil {
			return cw.n, err
		}
	}

	xref := cw.n
	fmt.Fprintf(cw, "xref\n0 %d\n0000000000 65535 f \n", len(o.objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(cw, "%010d 00000 n \n", off)
	}
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(len(o.objects)+1)))
	trailer.Set("Root", root)
	trailer.Set("Info", info)
	cw.Write([]byte("trailer\n"))
	cw.Write(serializePrimitive(trailer))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xref)
	return cw.n, cw.w.Flush()
}

// SerializeObject renders an indirect object, setting Length on streams.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	switch o := obj.(type) {
	case *raw.StreamObj:
		dict := o.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		dict.Set("Length", raw.NumberInt(int64(len(o.Data))))
		buf.Write(serializePrimitive(dict))
		buf.WriteString("\nstream\n")
		buf.Write(o.Data)
		buf.WriteString("\nendstream")
	default:
		buf.Write(serializePrimitive(obj))
	}
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte(pdfNameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInt {
			return []byte(strconv.FormatInt(v.I, 10))
		}
		return []byte(formatReal(v.F))
	case raw.BoolObj:
		if v.V {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		return []byte(literal(v.Bytes))
	case *raw.ArrayObj:
		buf := &bytes.Buffer{}
		buf.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.Write(serializePrimitive(it))
		}
		buf.WriteByte(']')
		return buf.Bytes()
	case *raw.DictObj:
		buf := &bytes.Buffer{}
		buf.WriteString("<<")
		for _, k := range v.Keys() {
			buf.WriteByte(' ')
			buf.WriteString(pdfNameLiteral(k))
			buf.WriteByte(' ')
			buf.Write(serializePrimitive(v.KV[k]))
		}
		buf.WriteString(" >>")
		return buf.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.R.Num, v.R.Gen))
	}
	return []byte("null")
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func literal(b []byte) string {
	return "(" + escapeLiteralString(b) + ")"
}

func escapeLiteralString(b []byte) string {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString("\\n")
		case '\r':
			buf.WriteString("\\r")
		case '\t':
			buf.WriteString("\\t")
		case '\b':
			buf.WriteString("\\b")
		case '\f':
			buf.WriteString("\\f")
		default:
			if c < 0x20 {
				fmt.Fprintf(&buf, "\\%03o", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	return buf.String()
}

func pdfNameLiteral(n string) string {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < 0x21 || c > 0x7e || c == '#' || isDelimiter(c) {
			fmt.Fprintf(&buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
	return buf.String()
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func utf16Encode(s string) []uint16 { return utf16.Encode([]rune(s)) }
