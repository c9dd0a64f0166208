// Package extract turns raw uploaded document bytes into page-oriented text
// plus source metadata, one driver per document type.
package extract

import (
	"context"
	"errors"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/document"
)

var (
	// ErrCorrupt indicates the input bytes are not a parseable instance of
	// the claimed document type. Retrying cannot help.
	ErrCorrupt = errors.New("corrupt document data")

	// ErrNoText indicates the document parsed but yielded no extractable
	// text at all.
	ErrNoText = errors.New("no extractable text")

	// ErrUnsupportedType indicates no extractor is registered for the
	// document type.
	ErrUnsupportedType = errors.New("unsupported document type")
)

// Info is source metadata recovered during extraction. PageCount is zero for
// unpaginated sources.
type Info struct {
	Title     string
	Author    string
	PageCount int
}

// Result is the output of one extraction: ordered pages of plain text plus
// whatever metadata the source carried.
type Result struct {
	Pages []chunker.Page
	Info  Info
}

// Extractor converts raw document bytes into pages of plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Result, error)
}

// Registry maps document types to their extractors.
type Registry map[document.Type]Extractor

// For returns the extractor for the given type.
func (r Registry) For(t document.Type) (Extractor, error) {
	e, ok := r[t]
	if !ok {
		return nil, ErrUnsupportedType
	}
	return e, nil
}
