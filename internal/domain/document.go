package domain

// Document is an extracted Letter of Credit as untrusted nested data.
// Values may be maps, slices, strings, numbers, bools, or nil at any depth;
// no shape is guaranteed. Rule conditions address fields by dotted path.
type Document map[string]any

// Clone returns a shallow copy of the top level. Rule evaluation never
// mutates documents, so one level is enough to isolate callers.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
