// Package chunker splits extracted document text into overlapping,
// offset-addressed chunks. Chunking is deterministic: identical input text
// and configuration always yield an identical chunk sequence, which makes
// re-ingestion idempotent.
package chunker

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/knowledgeco/companion/pkg/document"
)

var (
	// ErrEmptyDocument is returned when the concatenated extracted text is
	// empty. No partial chunk list is emitted on error.
	ErrEmptyDocument = errors.New("document has no extracted text")

	// ErrUndecodablePage is returned when a page's text is not valid UTF-8.
	ErrUndecodablePage = errors.New("page text cannot be decoded")
)

// chunkNamespace is the UUIDv5 namespace for chunk identifiers. Chunk IDs
// are derived from (document ID, index, span) so a re-ingestion of identical
// bytes produces identical chunk and vector IDs, letting upsert overwrite
// semantics supersede prior vectors instead of duplicating them.
var chunkNamespace = uuid.MustParse("8f3c1b52-9c47-4a8e-b5d7-2a61f0c4e9ab")

// Granularity selects how the target chunk size is interpreted.
type Granularity string

const (
	// GranularityCharacters sizes chunks by rune count.
	GranularityCharacters Granularity = "characters"

	// GranularityTokens sizes chunks by rune count but snaps chunk ends to
	// token boundaries so no chunk is split mid-token.
	GranularityTokens Granularity = "tokens"
)

const (
	// DefaultSize is the default target chunk size in characters.
	DefaultSize = 400

	// DefaultOverlap is the default overlap width between consecutive chunks.
	DefaultOverlap = 50

	// DefaultTokenBoundaryTolerance is how far (in runes) a chunk end may be
	// moved to reach a token boundary before falling back to a character
	// split.
	DefaultTokenBoundaryTolerance = 24
)

// Page is one page of extracted text, as produced by an extraction
// collaborator. Pages are ordered by Number.
type Page struct {
	Number int
	Text   string
}

// Config holds chunking parameters.
type Config struct {
	// Size is the target chunk size in runes. Defaults to DefaultSize.
	Size int

	// Overlap is the exact overlap width in runes between consecutive
	// chunks. Defaults to DefaultOverlap. Must be smaller than Size.
	Overlap int

	// Granularity selects character or token sizing. Defaults to
	// GranularityCharacters.
	Granularity Granularity

	// TokenBoundaryTolerance bounds the boundary search under
	// GranularityTokens. Defaults to DefaultTokenBoundaryTolerance.
	TokenBoundaryTolerance int
}

// Chunker splits page texts into chunks per its configuration.
type Chunker struct {
	size      int
	overlap   int
	gran      Granularity
	tolerance int
}

// New creates a Chunker, applying defaults for zero-value fields.
func New(cfg Config) (*Chunker, error) {
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}
	overlap := cfg.Overlap
	if overlap == 0 {
		overlap = DefaultOverlap
	}
	gran := cfg.Granularity
	if gran == "" {
		gran = GranularityCharacters
	}
	tolerance := cfg.TokenBoundaryTolerance
	if tolerance == 0 {
		tolerance = DefaultTokenBoundaryTolerance
	}

	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.Size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap %d must be in [0, size)", cfg.Overlap)
	}
	if gran != GranularityCharacters && gran != GranularityTokens {
		return nil, fmt.Errorf("unknown granularity %q", gran)
	}
	if tolerance < 0 || tolerance >= size-overlap {
		return nil, fmt.Errorf("token boundary tolerance %d must be in [0, size-overlap)", cfg.TokenBoundaryTolerance)
	}

	return &Chunker{
		size:      size,
		overlap:   overlap,
		gran:      gran,
		tolerance: tolerance,
	}, nil
}

// Split concatenates the page texts and cuts them into overlapping chunks.
// Character spans are half-open rune offsets into the concatenated text, and
// every span maps back to the page containing its first character. The final
// chunk absorbs a tail shorter than the advance step, so it may run longer
// than the target size; every other pair of consecutive chunks overlaps by
// exactly the configured overlap width.
func (c *Chunker) Split(documentID string, pages []Page) ([]document.TextChunk, error) {
	var runes []rune
	// pageStarts[i] is the rune offset where pages[i] begins.
	pageStarts := make([]int, len(pages))

	for i, page := range pages {
		if !utf8.ValidString(page.Text) {
			return nil, fmt.Errorf("%w: page %d", ErrUndecodablePage, page.Number)
		}
		pageStarts[i] = len(runes)
		runes = append(runes, []rune(page.Text)...)
	}

	total := len(runes)
	if total == 0 {
		return nil, ErrEmptyDocument
	}

	step := c.size - c.overlap
	var chunks []document.TextChunk

	for start := 0; start < total; start += step {
		end := start + c.size
		if end > total {
			end = total
		} else if total-end < step {
			// Absorb a tail shorter than one advance step into this final
			// chunk instead of emitting a mostly-overlap trailing chunk.
			end = total
		} else if c.gran == GranularityTokens {
			end = c.snapToTokenBoundary(runes, end)
		}

		text := string(runes[start:end])
		page := pageForOffset(pages, pageStarts, start)

		chunk := document.TextChunk{
			DocumentID: documentID,
			PageNumber: page,
			Text:       text,
			CharStart:  start,
			CharEnd:    end,
			TokenCount: document.CountTokens(text),
		}
		chunk.ID = chunkID(documentID, len(chunks), start, end)
		chunks = append(chunks, chunk)

		if end == total {
			break
		}
		// Next iteration starts at end-overlap regardless of snapping, so
		// the overlap width stays exact.
		start = end - c.overlap - step
	}

	return chunks, nil
}

// snapToTokenBoundary moves end backward, then forward, up to the tolerance
// looking for a position between tokens. When no boundary exists within the
// tolerance the raw character split is kept.
func (c *Chunker) snapToTokenBoundary(runes []rune, end int) int {
	if end <= 0 || end >= len(runes) {
		return end
	}
	for delta := 0; delta <= c.tolerance; delta++ {
		if back := end - delta; back > 0 && isBoundary(runes, back) {
			return back
		}
		if fwd := end + delta; fwd < len(runes) && isBoundary(runes, fwd) {
			return fwd
		}
	}
	return end
}

// isBoundary reports whether position i in runes falls between tokens, i.e.
// the runes on either side are not both word runes.
func isBoundary(runes []rune, i int) bool {
	return !(isWordRune(runes[i-1]) && isWordRune(runes[i]))
}

func isWordRune(r rune) bool {
	return r == '_' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') ||
		('0' <= r && r <= '9') || r > 127 && !isSpaceRune(r)
}

func isSpaceRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v', 0x85, 0xA0:
		return true
	}
	return false
}

// pageForOffset returns the number of the page containing rune offset off.
// Unpaginated sources use page number zero, which maps to nil.
func pageForOffset(pages []Page, pageStarts []int, off int) *int {
	for i := len(pages) - 1; i >= 0; i-- {
		if off >= pageStarts[i] {
			if pages[i].Number <= 0 {
				return nil
			}
			n := pages[i].Number
			return &n
		}
	}
	return nil
}

// chunkID derives the deterministic UUIDv5 identifier for a chunk.
func chunkID(documentID string, index, start, end int) string {
	name := fmt.Sprintf("%s:%d:%d:%d", documentID, index, start, end)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
