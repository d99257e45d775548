// Package extractor pulls page text and page images out of a decoded PDF.
package extractor

import (
	"errors"
	"fmt"

	"github.com/referto-app/referto/ir/decoded"
	"github.com/referto-app/referto/ir/raw"
)

// Extractor exposes helper routines for pulling structured data out of a decoded PDF.
type Extractor struct {
	dec        *decoded.DecodedDocument
	raw        *raw.Document
	catalog    *raw.DictObj
	pages      []*raw.DictObj
	pageLabels map[int]string
	fontCache  map[raw.ObjectRef]*fontDecoder
}

// New creates an extractor backed by the provided decoded document.
func New(dec *decoded.DecodedDocument) (*Extractor, error) {
	if dec == nil {
		return nil, errors.New("decoded document is required")
	}
	if dec.Raw == nil {
		return nil, errors.New("decoded document missing raw representation")
	}
	catalog, err := dec.Raw.Catalog()
	if err != nil {
		return nil, err
	}
	e := &Extractor{
		dec:       dec,
		raw:       dec.Raw,
		catalog:   catalog,
		fontCache: make(map[raw.ObjectRef]*fontDecoder),
	}
	e.pages = collectPages(dec.Raw, catalog)
	e.pageLabels = collectPageLabels(dec.Raw, catalog, len(e.pages))
	return e, nil
}

// Metadata holds high-level document metadata.
type Metadata struct {
	Version   string               `json:"version"`
	Info      raw.DocumentMetadata `json:"info"`
	Lang      string               `json:"lang,omitempty"`
	PageCount int                  `json:"page_count"`
}

func (e *Extractor) ExtractMetadata() Metadata {
	meta := Metadata{
		Version:   e.raw.Version,
		Info:      e.raw.Metadata,
		PageCount: len(e.pages),
	}
	if s, ok := e.raw.Resolve(e.catalog.KV["Lang"]).(raw.StringObj); ok {
		meta.Lang = s.Text()
	}
	return meta
}

func (e *Extractor) PageCount() int { return len(e.pages) }

// PageLabels returns the computed label for every labelled page index.
func (e *Extractor) PageLabels() map[int]string {
	out := make(map[int]string, len(e.pageLabels))
	for k, v := range e.pageLabels {
		out[k] = v
	}
	return out
}

// collectPages walks the page tree depth-first. Visited nodes are tracked so
// a cyclic Kids array cannot loop forever.
func collectPages(doc *raw.Document, catalog *raw.DictObj) []*raw.DictObj {
	var pages []*raw.DictObj
	seen := make(map[*raw.DictObj]bool)
	var walk func(obj raw.Object, depth int)
	walk = func(obj raw.Object, depth int) {
		dict, ok := doc.DictOf(obj)
		if !ok || seen[dict] || depth > 64 {
			return
		}
		seen[dict] = true
		typ, _ := dict.Name("Type")
		if kids, ok := doc.ArrayOf(dict.KV["Kids"]); ok && typ != "Page" {
			for _, kid := range kids.Items {
				walk(kid, depth+1)
			}
			return
		}
		if typ == "Page" || dict.KV["Contents"] != nil {
			pages = append(pages, dict)
		}
	}
	walk(catalog.KV["Pages"], 0)
	return pages
}

func collectPageLabels(doc *raw.Document, catalog *raw.DictObj, pageCount int) map[int]string {
	labels := make(map[int]string)
	pageLabels, ok := doc.DictOf(catalog.KV["PageLabels"])
	if !ok {
		return labels
	}
	nums, ok := doc.ArrayOf(pageLabels.KV["Nums"])
	if !ok {
		return labels
	}
	type rangeStart struct {
		idx    int
		prefix string
		start  int
	}
	var ranges []rangeStart
	for i := 0; i+1 < len(nums.Items); i += 2 {
		idx, ok := doc.IntOf(nums.Items[i])
		if !ok {
			continue
		}
		entry, ok := doc.DictOf(nums.Items[i+1])
		if !ok {
			continue
		}
		r := rangeStart{idx: int(idx), start: 1}
		if s, ok := doc.Resolve(entry.KV["P"]).(raw.StringObj); ok {
			r.prefix = s.Text()
		}
		if st, ok := doc.IntOf(entry.KV["St"]); ok {
			r.start = int(st)
		}
		ranges = append(ranges, r)
	}
	for i, r := range ranges {
		end := pageCount
		if i+1 < len(ranges) && ranges[i+1].idx < end {
			end = ranges[i+1].idx
		}
		for p := r.idx; p < end; p++ {
			labels[p] = fmt.Sprintf("%s%d", r.prefix, r.start+(p-r.idx))
		}
	}
	return labels
}

// inherited looks key up on page and then on its ancestors.
func (e *Extractor) inherited(page *raw.DictObj, key string) raw.Object {
	node := page
	for i := 0; node != nil && i < 64; i++ {
		if v, ok := node.Get(key); ok {
			return v
		}
		parent, ok := e.raw.DictOf(node.KV["Parent"])
		if !ok {
			break
		}
		node = parent
	}
	return nil
}

func (e *Extractor) resources(page *raw.DictObj) *raw.DictObj {
	res, _ := e.raw.DictOf(e.inherited(page, "Resources"))
	return res
}

// streamBytes returns the decoded bytes of a stream reference.
func (e *Extractor) streamBytes(obj raw.Object) ([]byte, *decoded.Stream) {
	s, ok := e.dec.Stream(obj)
	if !ok {
		return nil, nil
	}
	return s.Data, s
}

func (e *Extractor) page(index int) (*raw.DictObj, error) {
	if index < 0 || index >= len(e.pages) {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", index, len(e.pages))
	}
	return e.pages[index], nil
}
