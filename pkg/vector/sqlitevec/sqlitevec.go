// Package sqlitevec provides a SQLite-backed vector index using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/vector"
)

// Index implements vector.Index using SQLite with sqlite-vec.
type Index struct {
	db         *sql.DB
	dimensions uint
	logger     *zap.Logger
}

// Config holds configuration for the sqlite-vec index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	// Must match the embedding model and is fixed for the index lifetime.
	Dimensions uint
}

// NewIndex creates a new SQLite vector index backed by sqlite-vec.
func NewIndex(c Config, logger *zap.Logger) (*Index, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", vector.ErrConnection, err)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", vector.ErrConnection, err)
	}

	// Mapping table from string vector IDs to integer rowids, carrying the
	// metadata record used for filtering. vec0 virtual tables only key on
	// integer rowids.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_items (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			vector_id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			page_number INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating items table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS vec_items_document_id ON vec_items(document_id)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating document index: %w", err)
	}

	// vec0 virtual table for vector storage and KNN queries.
	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec index initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Index{
		db:         db,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert stores items with their embeddings. Re-upserting an existing vector
// ID replaces its embedding and metadata inside one transaction, so a reader
// never observes a mixed record.
func (x *Index) Upsert(ctx context.Context, items []vector.Item) error {
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if uint(len(item.Embedding)) != x.dimensions {
			return fmt.Errorf("%w: item %s has %d, index dimension is %d",
				vector.ErrDimensionMismatch, item.ID, len(item.Embedding), x.dimensions)
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		embBlob := serializeFloat32(item.Embedding)

		var existingRowID int64
		err = tx.QueryRowContext(ctx,
			`SELECT rowid FROM vec_items WHERE vector_id = ?`, item.ID,
		).Scan(&existingRowID)

		switch err {
		case nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE vec_items SET document_id = ?, chunk_id = ?, page_number = ? WHERE rowid = ?`,
				item.Meta.DocumentID, item.Meta.ChunkID, item.Meta.PageNumber, existingRowID,
			); err != nil {
				return fmt.Errorf("updating item %s: %w", item.ID, err)
			}

			// Update embedding in vec0 table via DELETE + INSERT
			// (vec0 does not support UPDATE)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM vec_embeddings WHERE rowid = ?`, existingRowID,
			); err != nil {
				return fmt.Errorf("deleting old embedding for item %s: %w", item.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
				existingRowID, embBlob,
			); err != nil {
				return fmt.Errorf("re-inserting embedding for item %s: %w", item.ID, err)
			}
		case sql.ErrNoRows:
			result, err := tx.ExecContext(ctx,
				`INSERT INTO vec_items(vector_id, document_id, chunk_id, page_number) VALUES (?, ?, ?, ?)`,
				item.ID, item.Meta.DocumentID, item.Meta.ChunkID, item.Meta.PageNumber,
			)
			if err != nil {
				return fmt.Errorf("inserting item %s: %w", item.ID, err)
			}

			rowID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for item %s: %w", item.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
				rowID, embBlob,
			); err != nil {
				return fmt.Errorf("inserting embedding for item %s: %w", item.ID, err)
			}
		default:
			return fmt.Errorf("checking for existing item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	x.logger.Debug("upserted items into sqlite-vec",
		zap.Int("count", len(items)),
	)

	return nil
}

// Query finds the topK most similar items to the given embedding. When a
// document filter is present the KNN over-fetches and filters afterward,
// because vec0 MATCH cannot see the joined metadata table.
func (x *Index) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if uint(len(embedding)) != x.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index dimension is %d",
			vector.ErrDimensionMismatch, len(embedding), x.dimensions)
	}

	k := topK
	if filter != nil && len(filter.DocumentIDs) > 0 {
		k = topK * 4
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT
			i.vector_id,
			i.document_id,
			i.chunk_id,
			i.page_number,
			ve.distance
		FROM vec_embeddings ve
		INNER JOIN vec_items i ON i.rowid = ve.rowid
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
		ORDER BY ve.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var r vector.QueryResult
		var distance float64
		if err := rows.Scan(&r.ID, &r.Meta.DocumentID, &r.Meta.ChunkID, &r.Meta.PageNumber, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		if !filter.Matches(r.Meta) {
			continue
		}

		// Convert distance to similarity score: lower distance = higher similarity
		r.Score = float32(1.0 / (1.0 + distance))
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	vector.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	x.logger.Debug("queried sqlite-vec",
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Delete removes items by their vector IDs.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid FROM vec_items WHERE vector_id IN (%s)`, inClause,
	), args...)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM vec_items WHERE vector_id IN (%s)`, inClause,
	), args...); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	x.logger.Debug("deleted items from sqlite-vec",
		zap.Int("count", len(ids)),
	)

	return nil
}

// Close releases resources held by the index.
func (x *Index) Close() error {
	return x.db.Close()
}

var _ vector.Index = (*Index)(nil)
