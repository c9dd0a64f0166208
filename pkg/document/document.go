// Package document holds the data model shared by the ingestion and query
// pipelines: documents, text chunks, citations, and query results.
package document

import "time"

// Type identifies the source format of a document.
type Type string

const (
	TypeWebPage Type = "web_page"
	TypePDF     Type = "pdf"
	TypeEPUB    Type = "epub"
)

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	switch t {
	case TypeWebPage, TypePDF, TypeEPUB:
		return true
	}
	return false
}

// Document is an ingested (or ingesting) source document. A document owns
// its chunk set exclusively; deleting the document destroys the chunks.
type Document struct {
	ID            string           `json:"id"`
	Type          Type             `json:"type"`
	Status        ProcessingStatus `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	PageCount     int              `json:"page_count"`
	SizeBytes     int64            `json:"size_bytes"`
	OwnerID       string           `json:"owner_id,omitempty"`
	Title         string           `json:"title,omitempty"`
	Author        string           `json:"author,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TextChunk is a contiguous, offset-addressed span of a document's extracted
// text. Spans are half-open: [CharStart, CharEnd). VectorID is nil until the
// chunk has been embedded successfully.
type TextChunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	PageNumber *int    `json:"page_number,omitempty"`
	Text       string  `json:"text"`
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	TokenCount int     `json:"token_count"`
	VectorID   *string `json:"vector_id,omitempty"`
}

// Citation is a retrieved chunk attached to a synthesized answer as
// supporting evidence. Citations are only ever built from chunks actually
// retrieved for a query.
type Citation struct {
	DocumentID     string  `json:"document_id"`
	PageNumber     *int    `json:"page_number,omitempty"`
	ChunkID        string  `json:"chunk_id"`
	Text           string  `json:"text"`
	RelevanceScore float32 `json:"relevance_score"`
}

// QueryResult is the synthesized answer with its citations, ordered by
// descending relevance. It is ephemeral and owned by the caller.
type QueryResult struct {
	Answer           string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
}
