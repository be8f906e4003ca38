package docref

import "sort"

// BBox is an element's bounding box in page coordinates.
type BBox struct {
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
}

// Element is one structural element of a parsed document.
type Element struct {
	Ref        string `json:"ref"`
	Kind       Kind   `json:"kind"`
	Label      string `json:"label,omitempty"`
	PageNumber int    `json:"page_number"`
	BBox       *BBox  `json:"bbox,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Index maps element references to elements. The zero value is not usable;
// call NewIndex.
type Index struct {
	byRef map[string]Element
}

// NewIndex builds an index over elements. Later elements with the same
// reference replace earlier ones.
func NewIndex(elements ...Element) *Index {
	idx := &Index{byRef: make(map[string]Element, len(elements))}
	for _, e := range elements {
		idx.Add(e)
	}
	return idx
}

// Add stores e under its normalized reference. Elements without a
// reference are ignored.
func (x *Index) Add(e Element) {
	ref := Normalize(e.Ref)
	if ref == "" {
		return
	}
	e.Ref = ref
	if e.Kind == "" {
		if r, err := Parse(ref); err == nil {
			e.Kind = r.Kind
		}
	}
	x.byRef[ref] = e
}

// Lookup resolves a document_ref to its element.
func (x *Index) Lookup(ref string) (Element, bool) {
	e, ok := x.byRef[Normalize(ref)]
	return e, ok
}

// Len returns the number of indexed elements.
func (x *Index) Len() int { return len(x.byRef) }

// Elements returns all elements ordered by kind then index. References
// that do not parse sort last, lexically.
func (x *Index) Elements() []Element {
	out := make([]Element, 0, len(x.byRef))
	for _, e := range x.byRef {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, ei := Parse(out[i].Ref)
		rj, ej := Parse(out[j].Ref)
		switch {
		case ei != nil && ej != nil:
			return out[i].Ref < out[j].Ref
		case ei != nil:
			return false
		case ej != nil:
			return true
		case ri.Kind != rj.Kind:
			return ri.Kind < rj.Kind
		}
		return ri.Index < rj.Index
	})
	return out
}
