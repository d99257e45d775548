package extractor

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/referto-app/referto/scanner"
)

type toUnicodeMap struct {
	entries map[string]string
	lengths []int
}

// cmapItem is an operand inside a CMap section: a string or an array of strings.
type cmapItem struct {
	b   []byte
	arr [][]byte
}

// parseToUnicodeCMap reads the codespace, bfchar and bfrange sections of a
// ToUnicode CMap.
func parseToUnicodeCMap(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{entries: make(map[string]string)}
	lengthSet := make(map[int]struct{})
	s := scanner.NewBytes(data, scanner.Config{MaxDepth: 8})
	var items []cmapItem
	var arr [][]byte
	inArray := false

	for {
		tok, err := s.Next()
		if err != nil {
			break
		}
		switch tok.Type {
		case scanner.TokenString:
			if inArray {
				arr = append(arr, tok.Bytes)
			} else {
				items = append(items, cmapItem{b: tok.Bytes})
			}
			continue
		case scanner.TokenName:
			// bfchar destinations may be glyph names
			if r, ok := glyphRune(tok.Str); ok && !inArray {
				items = append(items, cmapItem{b: utf16BE(string(r))})
			}
			continue
		case scanner.TokenArray:
			inArray, arr = true, nil
			continue
		case scanner.TokenKeyword:
		default:
			continue
		}
		switch tok.Str {
		case "]":
			if inArray {
				items = append(items, cmapItem{arr: arr})
				inArray = false
			}
		case "endcodespacerange":
			for i := 0; i+1 < len(items); i += 2 {
				if n := len(items[i].b); n > 0 {
					lengthSet[n] = struct{}{}
				}
			}
			items = items[:0]
		case "endbfchar":
			for i := 0; i+1 < len(items); i += 2 {
				src := items[i].b
				if len(src) == 0 {
					continue
				}
				m.entries[string(src)] = decodeUTF16BE(items[i+1].b)
				lengthSet[len(src)] = struct{}{}
			}
			items = items[:0]
		case "endbfrange":
			for i := 0; i+2 < len(items); i += 3 {
				m.addRange(items[i].b, items[i+1].b, items[i+2])
				if n := len(items[i].b); n > 0 {
					lengthSet[n] = struct{}{}
				}
			}
			items = items[:0]
		case "begincodespacerange", "beginbfchar", "beginbfrange":
			items = items[:0]
		}
	}

	if len(lengthSet) == 0 {
		for k := range m.entries {
			lengthSet[len(k)] = struct{}{}
		}
	}
	for l := range lengthSet {
		m.lengths = append(m.lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(m.lengths)))
	return m
}

func (m *toUnicodeMap) addRange(lo, hi []byte, dst cmapItem) {
	if len(lo) == 0 || len(lo) != len(hi) {
		return
	}
	start, end := bytesToInt(lo), bytesToInt(hi)
	if end < start || end-start > 0xFFFF {
		return
	}
	if dst.arr != nil {
		for i := 0; i <= end-start && i < len(dst.arr); i++ {
			m.entries[string(intToBytes(start+i, len(lo)))] = decodeUTF16BE(dst.arr[i])
		}
		return
	}
	if len(dst.b) == 0 {
		return
	}
	base := bytesToInt(dst.b)
	for i := 0; i <= end-start; i++ {
		m.entries[string(intToBytes(start+i, len(lo)))] = decodeUTF16BE(intToBytes(base+i, len(dst.b)))
	}
}

// decode maps codes greedily, longest code length first. Unmapped codes
// are dropped when skipUnmapped is set and copied as bytes otherwise.
func (m *toUnicodeMap) decode(data []byte, skipUnmapped bool) string {
	if len(m.lengths) == 0 {
		return string(data)
	}
	var out strings.Builder
	for len(data) > 0 {
		matched := false
		for _, l := range m.lengths {
			if len(data) < l {
				continue
			}
			if val, ok := m.entries[string(data[:l])]; ok {
				out.WriteString(val)
				data = data[l:]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		step := 1
		if skipUnmapped {
			step = m.lengths[len(m.lengths)-1]
			if step > len(data) {
				step = len(data)
			}
		} else {
			out.WriteByte(data[0])
		}
		data = data[step:]
	}
	return out.String()
}

func decodeUTF16BE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return ""
	}
	buf := make([]uint16, len(data)/2)
	for i := range buf {
		buf[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(buf))
}

func utf16BE(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(u)*2)
	for _, c := range u {
		out = append(out, byte(c>>8), byte(c))
	}
	return out
}

func bytesToInt(b []byte) int {
	val := 0
	for _, by := range b {
		val = (val << 8) | int(by)
	}
	return val
}

func intToBytes(value int, length int) []byte {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = byte(value & 0xFF)
		value >>= 8
	}
	return buf
}
