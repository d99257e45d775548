package decoded

import (
	"context"

	"github.com/referto-app/referto/ir/raw"
)

// Stream is a stream object after its non-image filters were applied.
// Streams ending in an image codec keep that last stage encoded and name
// it in ImageFilter.
type Stream struct {
	Ref         raw.ObjectRef
	Dict        *raw.DictObj
	Data        []byte
	Filters     []string
	ImageFilter string
	ImageParams *raw.DictObj
	// Err is set when the stream could not be decoded; Data is then nil.
	Err error
}

// DecodedDocument contains decoded streams plus a back-reference to the raw doc.
type DecodedDocument struct {
	Raw     *raw.Document
	Streams map[raw.ObjectRef]*Stream
}

// Stream resolves o to a decoded stream. Undecodable streams are not returned.
func (d *DecodedDocument) Stream(o raw.Object) (*Stream, bool) {
	ref, ok := o.(raw.RefObj)
	if !ok {
		return nil, false
	}
	s, ok := d.Streams[ref.R]
	if !ok || s.Err != nil {
		return nil, false
	}
	return s, true
}

// Decoder transforms Raw IR into Decoded IR.
type Decoder interface {
	Decode(ctx context.Context, rawDoc *raw.Document) (*DecodedDocument, error)
}
