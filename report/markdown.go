package report

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockListItem
)

type run struct {
	text string
	bold bool
}

// block is one laid-out unit of a model summary.
type block struct {
	kind   blockKind
	level  int
	marker string
	runs   []run
}

func (b block) text() string {
	var sb strings.Builder
	for _, r := range b.runs {
		sb.WriteString(r.text)
	}
	return sb.String()
}

// parseMarkdown flattens the summary into headings, paragraphs and list
// items with bold spans.
func parseMarkdown(source string) []block {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var out []block
	walkMarkdown(doc, src, &out, 0)
	return out
}

func walkMarkdown(node ast.Node, source []byte, out *[]block, depth int) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		walkNode(child, source, out, depth)
	}
}

func walkNode(node ast.Node, source []byte, out *[]block, depth int) {
	switch n := node.(type) {
	case *ast.Heading:
		*out = append(*out, block{kind: blockHeading, level: n.Level, runs: inlineRuns(n, source, false)})
	case *ast.Paragraph, *ast.TextBlock:
		*out = append(*out, block{kind: blockParagraph, runs: inlineRuns(n, source, false)})
	case *ast.List:
		walkList(n, source, out, depth)
	case *ast.Blockquote:
		walkMarkdown(n, source, out, depth)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		var sb strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
		*out = append(*out, block{kind: blockParagraph, runs: []run{{text: strings.TrimRight(sb.String(), "\n")}}})
	}
}

func walkList(list *ast.List, source []byte, out *[]block, depth int) {
	num := list.Start
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "•"
		if list.IsOrdered() {
			marker = strconv.Itoa(num) + "."
			num++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch n := c.(type) {
			case *ast.List:
				walkList(n, source, out, depth+1)
			case *ast.Paragraph, *ast.TextBlock:
				b := block{kind: blockListItem, level: depth, runs: inlineRuns(n, source, false)}
				if first {
					b.marker = marker
					first = false
				}
				*out = append(*out, b)
			default:
				walkNode(n, source, out, depth+1)
			}
		}
	}
}

func inlineRuns(node ast.Node, source []byte, bold bool) []run {
	var runs []run
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			runs = append(runs, run{text: string(n.Segment.Value(source)), bold: bold})
			if n.SoftLineBreak() || n.HardLineBreak() {
				runs = append(runs, run{text: " ", bold: bold})
			}
		case *ast.String:
			runs = append(runs, run{text: string(n.Value), bold: bold})
		case *ast.Emphasis:
			runs = append(runs, inlineRuns(n, source, bold || n.Level >= 2)...)
		case *ast.AutoLink:
			runs = append(runs, run{text: string(n.URL(source)), bold: bold})
		default:
			runs = append(runs, inlineRuns(n, source, bold)...)
		}
	}
	return mergeRuns(runs)
}

func mergeRuns(runs []run) []run {
	var out []run
	for _, r := range runs {
		if r.text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].bold == r.bold {
			out[n-1].text += r.text
			continue
		}
		out = append(out, r)
	}
	if n := len(out); n > 0 {
		out[n-1].text = strings.TrimRight(out[n-1].text, " ")
	}
	return out
}
