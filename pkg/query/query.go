// Package query runs the retrieval-and-synthesis pipeline: embed the
// question, retrieve the most relevant chunks, and produce a cited answer.
// Unlike ingestion, queries are synchronous and latency-oriented.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/embeddings"
	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/retry"
	"github.com/knowledgeco/companion/pkg/storage"
	"github.com/knowledgeco/companion/pkg/synthesis"
	"github.com/knowledgeco/companion/pkg/vector"
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrQuestionTooLong is returned when the question exceeds the limit.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrUnknownDocument is returned when a scoped document ID does not
	// exist.
	ErrUnknownDocument = errors.New("unknown document")

	// ErrDocumentNotReady is returned when a scoped document has not
	// finished ingesting.
	ErrDocumentNotReady = errors.New("document not ready")

	// ErrInvalidTopK is returned when the requested top_k is out of range.
	ErrInvalidTopK = errors.New("top_k out of range")

	// ErrTimeout is returned when the whole query exceeds its deadline.
	ErrTimeout = errors.New("query timed out")
)

const (
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 5

	// DefaultMaxTopK bounds how many chunks a caller may request.
	DefaultMaxTopK = 20

	// DefaultMinRelevance is the relevance floor below which hits are not
	// cited.
	DefaultMinRelevance = 0.3

	// DefaultTimeout bounds one query end to end.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxQuestionChars bounds question length in runes.
	DefaultMaxQuestionChars = 2000

	// DefaultContextTokens bounds the token budget of passages handed to
	// the generator.
	DefaultContextTokens = 3000

	// DefaultExcerptChars bounds citation excerpt length in runes.
	DefaultExcerptChars = 500
)

// Request is one question, optionally scoped to specific documents.
// A zero TopK means the configured default; an explicit out-of-range value
// is rejected.
type Request struct {
	Question    string
	DocumentIDs []string
	TopK        int
	OwnerID     string
}

// Config holds query pipeline settings.
type Config struct {
	// TopK is the default number of chunks retrieved per query.
	TopK int

	// MaxTopK is the largest top_k a request may ask for.
	MaxTopK int

	// MinRelevance drops hits scoring below it.
	MinRelevance float32

	// Timeout bounds the whole query.
	Timeout time.Duration

	// MaxQuestionChars bounds question length in runes.
	MaxQuestionChars int

	// ContextTokens bounds the passage token budget for synthesis.
	ContextTokens int

	// ExcerptChars bounds citation excerpt length in runes.
	ExcerptChars int

	// Retry bounds the backoff loop around synthesis calls.
	Retry retry.Policy
}

// Orchestrator answers questions against the ingested corpus.
type Orchestrator struct {
	driver    storage.Driver
	engine    *embeddings.Engine
	index     vector.Index
	generator synthesis.Generator
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator creates a query orchestrator, applying defaults for
// zero-value config fields.
func NewOrchestrator(driver storage.Driver, engine *embeddings.Engine, index vector.Index, generator synthesis.Generator, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if driver == nil || engine == nil || index == nil || generator == nil {
		return nil, fmt.Errorf("driver, engine, index, and generator are required")
	}

	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxQuestionChars <= 0 {
		cfg.MaxQuestionChars = DefaultMaxQuestionChars
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = DefaultContextTokens
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}

	return &Orchestrator{
		driver:    driver,
		engine:    engine,
		index:     index,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Answer runs the full query pipeline. When synthesis is unavailable the
// returned result still carries the citations alongside the error, so callers
// can surface retrieval results without an answer.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*document.QueryResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	if err := o.validate(ctx, &req); err != nil {
		return nil, err
	}

	embedding, err := o.engine.EmbedQuery(ctx, req.Question)
	if err != nil {
		return nil, o.timeoutOr(ctx, fmt.Errorf("embedding question: %w", err))
	}

	citations, err := o.retrieve(ctx, embedding, req)
	if err != nil {
		return nil, o.timeoutOr(ctx, err)
	}

	// Empty retrieval still goes to synthesis: the generator answers that
	// nothing relevant was found, which is a success, not an error.
	result := &document.QueryResult{Citations: citations}

	answer, err := o.synthesize(ctx, req.Question, citations)
	if err != nil {
		result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
		if errors.Is(err, synthesis.ErrUnavailable) {
			o.logger.Warn("synthesis unavailable, returning retrieval-only result",
				zap.Error(err),
			)
			return result, fmt.Errorf("%w: %w", synthesis.ErrUnavailable, err)
		}
		return nil, o.timeoutOr(ctx, err)
	}

	result.Answer = answer
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000

	o.logger.Debug("query answered",
		zap.Int("citations", len(result.Citations)),
		zap.Float64("took_ms", result.ProcessingTimeMs),
	)

	return result, nil
}

// validate applies the validation-first contract: every scoped document must
// exist and be ready before any backend work happens.
func (o *Orchestrator) validate(ctx context.Context, req *Request) error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return fmt.Errorf("%w: %w", faults.ErrValidation, ErrEmptyQuestion)
	}
	if n := len([]rune(req.Question)); n > o.cfg.MaxQuestionChars {
		return fmt.Errorf("%w: %w: %d runes exceeds %d",
			faults.ErrValidation, ErrQuestionTooLong, n, o.cfg.MaxQuestionChars)
	}
	if req.TopK == 0 {
		req.TopK = o.cfg.TopK
	}
	if req.TopK < 0 || req.TopK > o.cfg.MaxTopK {
		return fmt.Errorf("%w: %w: %d not in [1, %d]",
			faults.ErrValidation, ErrInvalidTopK, req.TopK, o.cfg.MaxTopK)
	}

	for _, id := range req.DocumentIDs {
		doc, err := o.driver.GetDocument(ctx, id)
		if storage.IsNotFound(err) {
			return fmt.Errorf("%w: %w: %s", faults.ErrValidation, ErrUnknownDocument, id)
		}
		if err != nil {
			return fmt.Errorf("checking document %s: %w", id, err)
		}
		if doc.Status != document.StatusReady {
			return fmt.Errorf("%w: %w: %s is %s",
				faults.ErrValidation, ErrDocumentNotReady, id, doc.Status)
		}
		if req.OwnerID != "" && doc.OwnerID != req.OwnerID {
			return fmt.Errorf("%w: %w: %s", faults.ErrValidation, ErrUnknownDocument, id)
		}
	}

	return nil
}

// retrieve queries the index, drops hits below the relevance floor, maps
// surviving hits to stored chunks (dropping stale hits whose chunks no longer
// exist), and applies the context token budget in relevance order.
func (o *Orchestrator) retrieve(ctx context.Context, embedding []float32, req Request) ([]document.Citation, error) {
	var filter *vector.Filter
	if len(req.DocumentIDs) > 0 {
		filter = &vector.Filter{DocumentIDs: req.DocumentIDs}
	}

	hits, err := o.index.Query(ctx, embedding, req.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	var kept []vector.QueryResult
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < o.cfg.MinRelevance {
			continue
		}
		kept = append(kept, hit)
		ids = append(ids, hit.Meta.ChunkID)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	chunks, err := o.driver.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	byID := make(map[string]document.TextChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	var citations []document.Citation
	budget := o.cfg.ContextTokens
	for _, hit := range kept {
		chunk, ok := byID[hit.Meta.ChunkID]
		if !ok {
			// Stale hit: the vector outlived its chunk (deleted document,
			// superseded re-ingestion). Drop it silently.
			o.logger.Debug("dropping stale vector hit",
				zap.String("vector_id", hit.ID),
				zap.String("chunk_id", hit.Meta.ChunkID),
			)
			continue
		}

		if chunk.TokenCount > budget {
			break
		}
		budget -= chunk.TokenCount

		citations = append(citations, document.Citation{
			DocumentID:     chunk.DocumentID,
			PageNumber:     chunk.PageNumber,
			ChunkID:        chunk.ID,
			Text:           document.ExcerptText(chunk.Text, o.cfg.ExcerptChars),
			RelevanceScore: hit.Score,
		})
	}

	return citations, nil
}

// synthesize calls the generator with retries, handing it the cited passages
// in relevance order.
func (o *Orchestrator) synthesize(ctx context.Context, question string, citations []document.Citation) (string, error) {
	passages := make([]synthesis.Passage, len(citations))
	for i, c := range citations {
		page := 0
		if c.PageNumber != nil {
			page = *c.PageNumber
		}
		passages[i] = synthesis.Passage{
			DocumentID: c.DocumentID,
			PageNumber: page,
			Text:       c.Text,
		}
	}

	var answer string
	err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) error {
		a, err := o.generator.Generate(ctx, question, passages)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		return "", err
	}

	return answer, nil
}

// timeoutOr maps a deadline-exceeded context onto ErrTimeout, otherwise
// returns err unchanged.
func (o *Orchestrator) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
