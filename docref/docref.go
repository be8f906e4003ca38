// Package docref formats and resolves document element references such as
// "#/texts/42", "#/pictures/3" or "#/tables/1". A reference names one
// structural element of a parsed document and is what the UI uses to find
// and highlight the element a span came from.
package docref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goprov/document"
)

// ErrInvalidRef is returned by Parse for strings that are not element
// references.
var ErrInvalidRef = errors.New("docref: invalid element reference")

// Kind is the element collection a reference points into.
type Kind string

const (
	KindText    Kind = "texts"
	KindPicture Kind = "pictures"
	KindTable   Kind = "tables"
	KindGroup   Kind = "groups"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindPicture, KindTable, KindGroup:
		return true
	}
	return false
}

// Ref is a parsed element reference.
type Ref struct {
	Kind  Kind
	Index int
}

// New returns the reference to element index of kind.
func New(kind Kind, index int) Ref {
	return Ref{Kind: kind, Index: index}
}

// String renders the canonical "#/<kind>/<index>" form.
func (r Ref) String() string {
	return "#/" + string(r.Kind) + "/" + strconv.Itoa(r.Index)
}

// Parse accepts "#/texts/42" as well as the "/texts/42" and "texts/42"
// forms some exporters emit. Kinds are case-insensitive.
func Parse(s string) (Ref, error) {
	raw := strings.TrimSpace(s)
	p := strings.TrimPrefix(raw, "#")
	p = strings.TrimPrefix(p, "/")

	kind, idx, ok := strings.Cut(p, "/")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	k := Kind(strings.ToLower(kind))
	if !k.valid() {
		return Ref{}, fmt.Errorf("%w: unknown kind in %q", ErrInvalidRef, s)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Ref{}, fmt.Errorf("%w: bad index in %q", ErrInvalidRef, s)
	}
	return Ref{Kind: k, Index: n}, nil
}

// Normalize returns the canonical form of s when it parses, and s with
// surrounding whitespace removed otherwise. Unknown reference schemes are
// passed through untouched so parsers other than Docling keep working.
func Normalize(s string) string {
	if r, err := Parse(s); err == nil {
		return r.String()
	}
	return strings.TrimSpace(s)
}

// Format returns the document_ref of a span found in chunk: the element
// the chunk was cut from. It depends only on the chunk, so resolving the
// same input twice yields the same reference.
func Format(chunk document.Chunk) string {
	return Normalize(chunk.ElementRef)
}

// FormatCross returns the document_ref of a span that crosses from one
// chunk into another. A span carries one reference, so the chunk holding
// the subject occurrence wins.
func FormatCross(subject, _ document.Chunk) string {
	return Format(subject)
}
