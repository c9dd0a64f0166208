// Package inmemory implements storage.Driver with in-process maps. It backs
// tests and local mode where persistence across restarts is not needed.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/storage"
)

// Driver is a map-backed storage driver safe for concurrent use.
type Driver struct {
	mu     sync.RWMutex
	docs   map[string]document.Document
	chunks map[string][]document.TextChunk
}

// NewDriver creates an empty in-memory storage driver.
func NewDriver() *Driver {
	return &Driver{
		docs:   make(map[string]document.Document),
		chunks: make(map[string][]document.TextChunk),
	}
}

// CreateDocument stores a new document record.
func (d *Driver) CreateDocument(_ context.Context, doc *document.Document) error {
	if doc == nil {
		return errors.New("cannot store nil document")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.docs[doc.ID]; exists {
		return errors.New("document already exists: " + doc.ID)
	}

	now := time.Now().UTC()
	stored := *doc
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	d.docs[doc.ID] = stored

	return nil
}

// GetDocument retrieves a document by ID.
func (d *Driver) GetDocument(_ context.Context, id string) (*document.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[id]
	if !ok {
		return nil, storage.ErrNotFound{Entity: "document", ID: id}
	}
	return &doc, nil
}

// ListDocuments returns documents sorted by creation time, newest first.
func (d *Driver) ListDocuments(_ context.Context, ownerID string) ([]*document.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var docs []*document.Document
	for _, doc := range d.docs {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		doc := doc
		docs = append(docs, &doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	return docs, nil
}

// UpdateDocument overwrites mutable document fields, preserving status.
func (d *Driver) UpdateDocument(_ context.Context, doc *document.Document) error {
	if doc == nil {
		return errors.New("cannot update nil document")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.docs[doc.ID]
	if !ok {
		return storage.ErrNotFound{Entity: "document", ID: doc.ID}
	}

	updated := *doc
	updated.Status = existing.Status
	updated.FailureReason = existing.FailureReason
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	d.docs[doc.ID] = updated

	return nil
}

// TransitionStatus atomically applies a legal status transition.
func (d *Driver) TransitionStatus(_ context.Context, id string, next document.ProcessingStatus, reason string) (document.ProcessingStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[id]
	if !ok {
		return "", storage.ErrNotFound{Entity: "document", ID: id}
	}

	old := doc.Status
	updated, err := old.Transition(next)
	if err != nil {
		return old, err
	}

	doc.Status = updated
	if next == document.StatusFailed {
		doc.FailureReason = reason
	} else {
		doc.FailureReason = ""
	}
	doc.UpdatedAt = time.Now().UTC()
	d.docs[id] = doc

	return old, nil
}

// DeleteDocument removes a document and its chunks.
func (d *Driver) DeleteDocument(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[id]; !ok {
		return storage.ErrNotFound{Entity: "document", ID: id}
	}

	delete(d.docs, id)
	delete(d.chunks, id)

	return nil
}

// ReplaceChunks atomically replaces the document's chunk set.
func (d *Driver) ReplaceChunks(_ context.Context, documentID string, chunks []document.TextChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[documentID]; !ok {
		return storage.ErrNotFound{Entity: "document", ID: documentID}
	}

	stored := make([]document.TextChunk, len(chunks))
	copy(stored, chunks)
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].CharStart < stored[j].CharStart
	})
	d.chunks[documentID] = stored

	return nil
}

// GetChunks returns a document's chunks ordered by CharStart.
func (d *Driver) GetChunks(_ context.Context, documentID string) ([]document.TextChunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.docs[documentID]; !ok {
		return nil, storage.ErrNotFound{Entity: "document", ID: documentID}
	}

	chunks := make([]document.TextChunk, len(d.chunks[documentID]))
	copy(chunks, d.chunks[documentID])

	return chunks, nil
}

// GetChunksByIDs returns chunks matching the given IDs, skipping unknown IDs.
func (d *Driver) GetChunksByIDs(_ context.Context, ids []string) ([]document.TextChunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var found []document.TextChunk
	for _, chunks := range d.chunks {
		for _, c := range chunks {
			if want[c.ID] {
				found = append(found, c)
			}
		}
	}

	return found, nil
}

// SetChunkVectorIDs records vector IDs on embedded chunks.
func (d *Driver) SetChunkVectorIDs(_ context.Context, vectorIDs map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for docID, chunks := range d.chunks {
		for i := range chunks {
			if vid, ok := vectorIDs[chunks[i].ID]; ok {
				v := vid
				chunks[i].VectorID = &v
			}
		}
		d.chunks[docID] = chunks
	}

	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

// Len returns the number of stored documents. Used by tests.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

var _ storage.Driver = (*Driver)(nil)
