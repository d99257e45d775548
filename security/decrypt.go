package security

import (
	"fmt"

	"github.com/referto-app/referto/ir/raw"
)

// DecryptDocument authenticates with password and decrypts every string
// and stream of doc in place. Objects that fail to decrypt are left as they
// were. The encryption dictionary and cross-reference streams are never
// encrypted and are skipped.
func DecryptDocument(doc *raw.Document, password string) (*Handler, error) {
	h, err := NewHandler(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raw.ErrEncrypted, err)
	}
	if err := h.Authenticate(password); err != nil {
		return nil, err
	}

	var encRef raw.ObjectRef
	if ref, ok := doc.Trailer.Value("Encrypt").(raw.RefObj); ok {
		encRef = ref.R
	}
	for ref, obj := range doc.Objects {
		if ref == encRef {
			continue
		}
		switch o := obj.(type) {
		case *raw.StreamObj:
			h.decryptStream(ref, o)
		case raw.StringObj, *raw.ArrayObj, *raw.DictObj:
			doc.Objects[ref] = h.decryptValue(ref, obj)
		}
	}
	return h, nil
}

func (h *Handler) decryptStream(ref raw.ObjectRef, s *raw.StreamObj) {
	if s.Dict == nil {
		return
	}
	t, _ := s.Dict.Name("Type")
	if t == "XRef" {
		return
	}
	h.decryptValue(ref, s.Dict)
	if t == "Metadata" && !h.encryptMeta {
		return
	}
	var (
		data []byte
		err  error
	)
	if name, ok := takeCryptFilter(s.Dict); ok {
		data, err = h.DecryptWithFilter(ref.Num, ref.Gen, s.Data, name)
	} else {
		data, err = h.Decrypt(ref.Num, ref.Gen, s.Data, DataClassStream)
	}
	if err == nil {
		s.Data = data
	}
}

// decryptValue decrypts strings nested in v. Containers are updated in
// place; strings are returned decrypted.
func (h *Handler) decryptValue(ref raw.ObjectRef, v raw.Object) raw.Object {
	switch o := v.(type) {
	case raw.StringObj:
		if data, err := h.Decrypt(ref.Num, ref.Gen, o.Bytes, DataClassString); err == nil {
			return raw.Str(data)
		}
	case *raw.ArrayObj:
		for i, item := range o.Items {
			o.Items[i] = h.decryptValue(ref, item)
		}
	case *raw.DictObj:
		for k, item := range o.KV {
			o.KV[k] = h.decryptValue(ref, item)
		}
	}
	return v
}

// takeCryptFilter removes a leading /Crypt filter from a stream dictionary
// and returns the crypt filter it names.
func takeCryptFilter(d *raw.DictObj) (string, bool) {
	switch f := d.Value("Filter").(type) {
	case raw.NameObj:
		if f.Val != "Crypt" {
			return "", false
		}
		name := cryptFilterName(d.Value("DecodeParms"))
		delete(d.KV, "Filter")
		delete(d.KV, "DecodeParms")
		return name, true
	case *raw.ArrayObj:
		if f.Len() == 0 {
			return "", false
		}
		if n, ok := f.Items[0].(raw.NameObj); !ok || n.Val != "Crypt" {
			return "", false
		}
		var name string
		if parms, ok := d.Value("DecodeParms").(*raw.ArrayObj); ok && parms.Len() > 0 {
			name = cryptFilterName(parms.Items[0])
			parms.Items = parms.Items[1:]
		}
		f.Items = f.Items[1:]
		if name == "" {
			name = "Identity"
		}
		return name, true
	}
	return "", false
}

func cryptFilterName(parms raw.Object) string {
	if d, ok := parms.(*raw.DictObj); ok {
		if n, ok := d.Name("Name"); ok {
			return n
		}
	}
	return "Identity"
}
