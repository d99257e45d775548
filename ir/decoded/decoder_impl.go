package decoded

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/referto-app/referto/filters"
	"github.com/referto-app/referto/ir/raw"
	"github.com/referto-app/referto/scanner"
)

// NewDecoder constructs a Decoder that applies filter decoding to streams
// using at most workers goroutines. workers <= 0 means GOMAXPROCS.
func NewDecoder(p *filters.Pipeline, workers int) Decoder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &decoderImpl{pipeline: p, workers: workers}
}

type decoderImpl struct {
	pipeline *filters.Pipeline
	workers  int
}

// Decode decodes every stream of rawDoc. Objects packed in object streams
// are added to rawDoc.Objects when the file does not define them directly.
func (d *decoderImpl) Decode(ctx context.Context, rawDoc *raw.Document) (*DecodedDocument, error) {
	doc := &DecodedDocument{Raw: rawDoc, Streams: make(map[raw.ObjectRef]*Stream)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for ref, obj := range rawDoc.Objects {
		s, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := d.decodeStream(gctx, rawDoc, ref, s)
			mu.Lock()
			doc.Streams[ref] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for ref, s := range doc.Streams {
		if s.Err != nil {
			continue
		}
		if t, _ := s.Dict.Name("Type"); t == "ObjStm" {
			if err := expandObjectStream(rawDoc, s); err != nil {
				s.Err = fmt.Errorf("object stream %v: %w", ref, err)
			}
		}
	}
	return doc, nil
}

func (d *decoderImpl) decodeStream(ctx context.Context, doc *raw.Document, ref raw.ObjectRef, s *raw.StreamObj) *Stream {
	out := &Stream{Ref: ref, Dict: s.Dict, Data: s.Data}
	names, params := filters.ExtractFilters(doc, s.Dict)
	out.Filters = names
	if len(names) == 0 || d.pipeline == nil {
		return out
	}
	res, err := d.pipeline.Decode(ctx, s.Data, names, params)
	if err != nil {
		out.Data = nil
		out.Err = fmt.Errorf("decode filters %v for %v: %w", names, ref, err)
		return out
	}
	out.Data = res.Data
	out.ImageFilter = res.ImageFilter
	out.ImageParams = res.ImageParams
	return out
}

// expandObjectStream parses the "num offset" header of an /ObjStm and
// registers each contained object.
func expandObjectStream(doc *raw.Document, s *Stream) error {
	n, ok := doc.IntOf(s.Dict.KV["N"])
	if !ok || n < 0 {
		return fmt.Errorf("missing N")
	}
	first, ok := doc.IntOf(s.Dict.KV["First"])
	if !ok || first < 0 || first > int64(len(s.Data)) {
		return fmt.Errorf("invalid First")
	}

	header := raw.NewTokenReader(scanner.NewBytes(s.Data[:first], scanner.Config{}))
	type entry struct{ num, off int64 }
	entries := make([]entry, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err := header.Next()
		if err != nil {
			break
		}
		offTok, err := header.Next()
		if err != nil {
			break
		}
		if !numTok.IsInt || !offTok.IsInt {
			return fmt.Errorf("malformed header")
		}
		entries = append(entries, entry{numTok.Int, offTok.Int})
	}

	body := s.Data[first:]
	for _, e := range entries {
		ref := raw.ObjectRef{Num: int(e.num)}
		if _, exists := doc.Objects[ref]; exists {
			continue
		}
		if e.off < 0 || e.off >= int64(len(body)) {
			continue
		}
		tr := raw.NewTokenReader(scanner.New(bytes.NewReader(body[e.off:]), scanner.Config{}))
		obj, err := raw.ReadObject(tr)
		if err != nil {
			continue
		}
		doc.Objects[ref] = obj
	}
	return nil
}
