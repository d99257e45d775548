// Package raw holds the unparsed PDF object graph: every indirect object
// found in a file, keyed by reference, plus the merged trailer.
package raw

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotPDF    = errors.New("not a PDF file")
	ErrNoCatalog = errors.New("pdf catalog not found")
	ErrEncrypted = errors.New("encrypted pdf")
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is implemented by every raw PDF object.
type Object interface {
	Type() string
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
}

// Document is the root container for raw PDF objects.
type Document struct {
	Objects   map[ObjectRef]Object
	Trailer   *DictObj
	Version   string // e.g., "1.7"
	Metadata  DocumentMetadata
	Encrypted bool
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt) (*Document, error)
}

// Resolve follows indirect references until a direct object is reached.
// Missing targets resolve to NullObj.
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < 32; i++ {
		ref, ok := o.(RefObj)
		if !ok {
			return o
		}
		target, ok := d.Objects[ref.R]
		if !ok {
			return NullObj{}
		}
		o = target
	}
	return NullObj{}
}

// DictOf resolves o and returns its dictionary, including a stream's.
func (d *Document) DictOf(o Object) (*DictObj, bool) {
	switch v := d.Resolve(o).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, v.Dict != nil
	}
	return nil, false
}

func (d *Document) ArrayOf(o Object) (*ArrayObj, bool) {
	a, ok := d.Resolve(o).(*ArrayObj)
	return a, ok
}

func (d *Document) IntOf(o Object) (int64, bool) {
	n, ok := d.Resolve(o).(NumberObj)
	return n.Int(), ok
}

func (d *Document) FloatOf(o Object) (float64, bool) {
	n, ok := d.Resolve(o).(NumberObj)
	return n.Float(), ok
}

func (d *Document) NameOf(o Object) (string, bool) {
	n, ok := d.Resolve(o).(NameObj)
	return n.Val, ok
}

// Catalog returns the document catalog referenced by the trailer.
func (d *Document) Catalog() (*DictObj, error) {
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil, ErrNoCatalog
	}
	cat, ok := d.DictOf(root)
	if !ok {
		return nil, ErrNoCatalog
	}
	return cat, nil
}
