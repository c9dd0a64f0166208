// Package qdrant implements the vector index adapter on a Qdrant server via
// its gRPC client. Metadata is duplicated into the point payload so queries
// can filter by document without touching primary storage.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/vector"
)

const (
	payloadDocumentID = "document_id"
	payloadChunkID    = "chunk_id"
	payloadPageNumber = "page_number"
)

// Config holds connection and collection settings for a Qdrant index.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions is the embedding dimension used when the collection has
	// to be created.
	Dimensions int
}

// Index implements vector.Index against a Qdrant collection using cosine
// distance. The collection is created on construction if it does not exist.
type Index struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *zap.Logger
}

// NewIndex connects to Qdrant and ensures the collection exists.
func NewIndex(ctx context.Context, cfg Config, logger *zap.Logger) (*Index, error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("embedding dimension is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", vector.ErrConnection, err)
	}

	x := &Index{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}

	if err := x.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return x, nil
}

func (x *Index) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return wrapErr(fmt.Errorf("checking collection: %w", err))
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return wrapErr(fmt.Errorf("creating collection %q: %w", x.collection, err))
	}

	x.logger.Info("created qdrant collection",
		zap.String("collection", x.collection),
		zap.Int("dimensions", x.dimensions),
	)

	return nil
}

// Upsert writes items with wait semantics so an accepted write is durable,
// though not necessarily visible to concurrent readers yet.
func (x *Index) Upsert(ctx context.Context, items []vector.Item) error {
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) != x.dimensions {
			return fmt.Errorf("%w: got %d, collection dimension is %d",
				vector.ErrDimensionMismatch, len(item.Embedding), x.dimensions)
		}
		payload := map[string]any{
			payloadDocumentID: item.Meta.DocumentID,
			payloadChunkID:    item.Meta.ChunkID,
		}
		if item.Meta.PageNumber > 0 {
			payload[payloadPageNumber] = int64(item.Meta.PageNumber)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(item.ID),
			Vectors: qdrant.NewVectors(item.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return wrapErr(fmt.Errorf("upserting %d points: %w", len(points), err))
	}

	return nil
}

// Query runs a cosine similarity search, optionally filtered to documents.
func (x *Index) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if len(embedding) != x.dimensions {
		return nil, fmt.Errorf("%w: got %d, collection dimension is %d",
			vector.ErrDimensionMismatch, len(embedding), x.dimensions)
	}
	if topK <= 0 {
		topK = 10
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil && len(filter.DocumentIDs) > 0 {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(payloadDocumentID, filter.DocumentIDs...),
			},
		}
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("querying collection: %w", err))
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.QueryResult{
			ID:    p.GetId().GetUuid(),
			Score: clampScore(p.GetScore()),
			Meta:  metaFromPayload(p.GetPayload()),
		})
	}

	vector.SortResults(results)

	return results, nil
}

// Delete removes points by ID, waiting for the operation to apply.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return wrapErr(fmt.Errorf("deleting %d points: %w", len(ids), err))
	}

	return nil
}

// Close closes the underlying gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}

func metaFromPayload(payload map[string]*qdrant.Value) vector.Metadata {
	meta := vector.Metadata{
		DocumentID: payload[payloadDocumentID].GetStringValue(),
		ChunkID:    payload[payloadChunkID].GetStringValue(),
	}
	if v, ok := payload[payloadPageNumber]; ok {
		meta.PageNumber = int(v.GetIntegerValue())
	}
	return meta
}

// clampScore bounds cosine scores into [0, 1]. Qdrant returns raw cosine
// similarity, which is negative for opposing vectors.
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// wrapErr classifies gRPC failures. Unavailability and deadline errors are
// retryable; everything else surfaces as a connection error.
func wrapErr(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %v", faults.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", vector.ErrConnection, err)
}

var _ vector.Index = (*Index)(nil)
