package filters

import "github.com/referto-app/referto/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream
// dictionary. doc resolves indirect entries and may be nil.
func ExtractFilters(doc *raw.Document, dict *raw.DictObj) ([]string, []*raw.DictObj) {
	resolve := func(o raw.Object) raw.Object {
		if doc == nil {
			return o
		}
		return doc.Resolve(o)
	}
	var names []string
	var params []*raw.DictObj

	filterObj, ok := dict.Get("Filter")
	if !ok {
		filterObj, ok = dict.Get("F")
	}
	if !ok {
		return nil, nil
	}
	switch f := resolve(filterObj).(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := resolve(item).(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	pObj, ok := dict.Get("DecodeParms")
	if !ok {
		pObj, ok = dict.Get("DP")
	}
	params = make([]*raw.DictObj, len(names))
	if !ok {
		return names, params
	}
	switch p := resolve(pObj).(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i, item := range p.Items {
			if i >= len(params) {
				break
			}
			if d, ok := resolve(item).(*raw.DictObj); ok {
				params[i] = d
			}
		}
	}
	return names, params
}

func intParam(params *raw.DictObj, key string) (int64, bool) {
	o, ok := params.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := o.(raw.NumberObj)
	return n.Int(), ok
}
