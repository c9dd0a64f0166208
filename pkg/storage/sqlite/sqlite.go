// Package sqlite implements storage.Driver on SQLite via database/sql. It is
// the default persistent store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	page_count     INTEGER NOT NULL DEFAULT 0,
	size_bytes     INTEGER NOT NULL DEFAULT 0,
	owner_id       TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INTEGER,
	text        TEXT NOT NULL,
	char_start  INTEGER NOT NULL,
	char_end    INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	vector_id   TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
`

// Driver is a SQLite-backed storage driver.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds SQLite storage settings.
type Config struct {
	// DBPath is the path to the SQLite database file, or ":memory:".
	DBPath string
}

// NewDriver opens (creating if needed) the database and ensures the schema.
func NewDriver(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every query sees the same schema.
	if strings.Contains(cfg.DBPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("opened sqlite document store", zap.String("path", cfg.DBPath))

	return &Driver{db: db, logger: logger}, nil
}

// CreateDocument stores a new document record.
func (d *Driver) CreateDocument(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return errors.New("cannot store nil document")
	}

	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO documents (id, type, status, failure_reason, page_count, size_bytes, owner_id, title, author, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, string(doc.Type), string(doc.Status), doc.FailureReason,
		doc.PageCount, doc.SizeBytes, doc.OwnerID, doc.Title, doc.Author,
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	return nil
}

// GetDocument retrieves a document by ID.
func (d *Driver) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, type, status, failure_reason, page_count, size_bytes, owner_id, title, author, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Entity: "document", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	return doc, nil
}

// ListDocuments returns documents newest first, optionally filtered by owner.
func (d *Driver) ListDocuments(ctx context.Context, ownerID string) ([]*document.Document, error) {
	query := `
		SELECT id, type, status, failure_reason, page_count, size_bytes, owner_id, title, author, created_at, updated_at
		FROM documents`
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdateDocument overwrites mutable fields, leaving lifecycle state alone.
func (d *Driver) UpdateDocument(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return errors.New("cannot update nil document")
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE documents
		SET type = ?, page_count = ?, size_bytes = ?, owner_id = ?, title = ?, author = ?, updated_at = ?
		WHERE id = ?`,
		string(doc.Type), doc.PageCount, doc.SizeBytes, doc.OwnerID,
		doc.Title, doc.Author, time.Now().UTC(), doc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}

	return requireRow(res, "document", doc.ID)
}

// TransitionStatus applies a legal status transition inside one transaction.
func (d *Driver) TransitionStatus(ctx context.Context, id string, next document.ProcessingStatus, reason string) (document.ProcessingStatus, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound{Entity: "document", ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}

	old := document.ProcessingStatus(current)
	updated, err := old.Transition(next)
	if err != nil {
		return old, err
	}

	failureReason := ""
	if next == document.StatusFailed {
		failureReason = reason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(updated), failureReason, time.Now().UTC(), id,
	)
	if err != nil {
		return old, fmt.Errorf("writing status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return old, fmt.Errorf("committing transition: %w", err)
	}

	return old, nil
}

// DeleteDocument removes a document; the chunk cascade is enforced by the
// foreign key.
func (d *Driver) DeleteDocument(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	return requireRow(res, "document", id)
}

// ReplaceChunks swaps the document's chunk set in one transaction.
func (d *Driver) ReplaceChunks(ctx context.Context, documentID string, chunks []document.TextChunk) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound{Entity: "document", ID: documentID}
	}
	if err != nil {
		return fmt.Errorf("checking document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, page_number, text, char_start, char_end, token_count, vector_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, documentID, c.PageNumber, c.Text, c.CharStart, c.CharEnd, c.TokenCount, c.VectorID,
		)
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunks returns a document's chunks ordered by CharStart.
func (d *Driver) GetChunks(ctx context.Context, documentID string) ([]document.TextChunk, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound{Entity: "document", ID: documentID}
	}
	if err != nil {
		return nil, fmt.Errorf("checking document: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, document_id, page_number, text, char_start, char_end, token_count, vector_id
		FROM chunks WHERE document_id = ? ORDER BY char_start ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// GetChunksByIDs returns chunks matching the given IDs, skipping unknown IDs.
func (d *Driver) GetChunksByIDs(ctx context.Context, ids []string) ([]document.TextChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, document_id, page_number, text, char_start, char_end, token_count, vector_id
		FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SetChunkVectorIDs records vector IDs on embedded chunks.
func (d *Driver) SetChunkVectorIDs(ctx context.Context, vectorIDs map[string]string) error {
	if len(vectorIDs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET vector_id = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for chunkID, vectorID := range vectorIDs {
		if _, err := stmt.ExecContext(ctx, vectorID, chunkID); err != nil {
			return fmt.Errorf("updating chunk %s: %w", chunkID, err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var doc document.Document
	var docType, status string

	err := row.Scan(&doc.ID, &docType, &status, &doc.FailureReason,
		&doc.PageCount, &doc.SizeBytes, &doc.OwnerID, &doc.Title, &doc.Author,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	doc.Type = document.Type(docType)
	doc.Status = document.ProcessingStatus(status)

	return &doc, nil
}

func scanChunks(rows *sql.Rows) ([]document.TextChunk, error) {
	var chunks []document.TextChunk
	for rows.Next() {
		var c document.TextChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.PageNumber, &c.Text,
			&c.CharStart, &c.CharEnd, &c.TokenCount, &c.VectorID); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound{Entity: entity, ID: id}
	}
	return nil
}

var _ storage.Driver = (*Driver)(nil)
