package dotdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// blobsDir holds one file per uploaded document, named by document ID.
	blobsDir = "documents"
)

// ErrNoBlob is returned when no stored bytes exist for a document ID.
var ErrNoBlob = errors.New("no stored document bytes")

// SaveBlob persists the raw bytes of an uploaded document under
// .companion/documents/<documentID>. Existing bytes are overwritten, which
// is what re-uploading a document means.
// If overrideDir is non-empty, it is used instead of the default location.
func (m *Manager) SaveBlob(documentID string, data []byte, overrideDir string) error {
	if documentID == "" {
		return errors.New("document ID is required")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	blobPath := filepath.Join(dir, blobsDir)
	if err := os.MkdirAll(blobPath, 0o755); err != nil {
		return fmt.Errorf("creating documents directory: %w", err)
	}

	path := filepath.Join(blobPath, documentID)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing document bytes: %w", err)
	}

	return nil
}

// LoadBlob reads back the raw bytes of a previously uploaded document.
// Returns ErrNoBlob if nothing is stored for the ID.
func (m *Manager) LoadBlob(documentID string, overrideDir string) ([]byte, error) {
	if documentID == "" {
		return nil, errors.New("document ID is required")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, blobsDir, documentID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoBlob, documentID)
		}
		return nil, fmt.Errorf("reading document bytes: %w", err)
	}

	return data, nil
}

// RemoveBlob deletes the stored bytes for a document, typically alongside
// deleting the document itself. Returns nil if nothing was stored.
func (m *Manager) RemoveBlob(documentID string, overrideDir string) error {
	if documentID == "" {
		return errors.New("document ID is required")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, blobsDir, documentID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing document bytes: %w", err)
	}

	return nil
}
