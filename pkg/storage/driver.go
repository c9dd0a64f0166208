// Package storage defines the primary persistence interface for documents
// and their text chunks. The vector index is a disposable projection of this
// store; everything needed to rebuild it lives here.
package storage

import (
	"context"

	"github.com/knowledgeco/companion/pkg/document"
)

// Driver persists documents and their chunk sets. A document owns its chunks
// exclusively: replacing or deleting the document replaces or deletes the
// chunks with it.
type Driver interface {
	// CreateDocument stores a new document record.
	CreateDocument(ctx context.Context, doc *document.Document) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*document.Document, error)

	// ListDocuments returns documents, optionally restricted to an owner.
	ListDocuments(ctx context.Context, ownerID string) ([]*document.Document, error)

	// UpdateDocument overwrites mutable document fields (metadata, counts).
	// Status is not touched; use TransitionStatus.
	UpdateDocument(ctx context.Context, doc *document.Document) error

	// TransitionStatus atomically moves a document to the next lifecycle
	// status, enforcing the legal transition set. It returns the prior
	// status so callers can emit a transition event. Reason is stored on
	// transitions into failed and cleared otherwise.
	TransitionStatus(ctx context.Context, id string, next document.ProcessingStatus, reason string) (document.ProcessingStatus, error)

	// DeleteDocument removes a document and cascades to its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceChunks atomically replaces the document's chunk set. Passing an
	// empty slice clears it.
	ReplaceChunks(ctx context.Context, documentID string, chunks []document.TextChunk) error

	// GetChunks returns a document's chunks ordered by CharStart.
	GetChunks(ctx context.Context, documentID string) ([]document.TextChunk, error)

	// GetChunksByIDs returns the chunks for the given chunk IDs. Missing IDs
	// are simply absent from the result; callers treat them as stale.
	GetChunksByIDs(ctx context.Context, ids []string) ([]document.TextChunk, error)

	// SetChunkVectorIDs records the vector ID for each chunk ID given.
	SetChunkVectorIDs(ctx context.Context, vectorIDs map[string]string) error

	// Close closes the store and releases any resources.
	Close() error
}
