package embeddings

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/retry"
)

const (
	// DefaultMaxBatchSize is the maximum number of texts per backend call.
	DefaultMaxBatchSize = 16

	// DefaultMaxBatchTokens is the maximum total token budget per batch.
	DefaultMaxBatchTokens = 2048

	// DefaultMaxSequenceChars is the maximum input length in runes before
	// truncation applies.
	DefaultMaxSequenceChars = 8192

	// DefaultMaxConcurrentBatches bounds in-flight backend batch calls.
	DefaultMaxConcurrentBatches = 4

	// DefaultRatePerSecond bounds backend calls per second.
	DefaultRatePerSecond = 10
)

// Result is the positional outcome for one input text. Exactly one of
// Embedding or Err is meaningful, except that a truncated input carries both
// a usable Embedding and Truncated set.
type Result struct {
	Embedding []float32
	Truncated bool
	Err       error
}

// EngineConfig holds batching, rate-limiting, and truncation settings.
type EngineConfig struct {
	// MaxBatchSize is the maximum number of texts per backend call.
	MaxBatchSize int

	// MaxBatchTokens is the maximum total token budget per batch. A single
	// text always fits in its own batch regardless of budget.
	MaxBatchTokens int

	// MaxSequenceChars is the maximum input length in runes. Longer inputs
	// are deterministically truncated and flagged unless DisableTruncation.
	MaxSequenceChars int

	// DisableTruncation rejects overlong inputs with a validation error
	// instead of truncating them.
	DisableTruncation bool

	// MaxConcurrentBatches bounds in-flight backend batch calls.
	MaxConcurrentBatches int64

	// RatePerSecond bounds backend calls per second across both modes.
	RatePerSecond float64

	// Retry bounds the backoff loop around each backend call.
	Retry retry.Policy
}

// Engine is the batching, rate-limiting front over a BatchEmbedder backend.
// It is an immutable capability handle: construct once, inject everywhere.
// Identical text against the same model always yields the same vector, so
// re-embedding on re-ingestion is stable.
type Engine struct {
	backend BatchEmbedder
	cfg     EngineConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEngine creates an Engine over the given backend, applying defaults for
// zero-value config fields.
func NewEngine(backend BatchEmbedder, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = DefaultMaxBatchTokens
	}
	if cfg.MaxSequenceChars <= 0 {
		cfg.MaxSequenceChars = DefaultMaxSequenceChars
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}

	return &Engine{
		backend: backend,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentBatches),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.MaxConcurrentBatches)),
		logger:  logger,
	}, nil
}

// EmbedDocuments embeds texts for the throughput-oriented document path.
// The returned slice has the same length and order as texts so callers can
// correlate results positionally even under partial failure. A total backend
// failure for one batch marks only that batch's slots; other batches proceed.
func (e *Engine) EmbedDocuments(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))

	// Prepare slots, applying the truncation policy up front.
	prepared := make([]string, len(texts))
	embeddable := make([]int, 0, len(texts))
	for i, text := range texts {
		p, truncated, err := e.prepare(text)
		if err != nil {
			results[i].Err = err
			continue
		}
		prepared[i] = p
		results[i].Truncated = truncated
		embeddable = append(embeddable, i)
	}

	batches := e.planBatches(prepared, embeddable)

	var wg sync.WaitGroup
	for _, batch := range batches {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: mark this and all remaining slots.
			e.failBatch(results, batch, fmt.Errorf("%w: %v", faults.ErrTransient, err))
			continue
		}

		wg.Add(1)
		go func(batch []int) {
			defer wg.Done()
			defer e.sem.Release(1)
			e.embedBatch(ctx, prepared, results, batch)
		}(batch)
	}
	wg.Wait()

	return results
}

// EmbedQuery embeds a single query text on the latency-oriented path. It
// bypasses the batching queue and its semaphore but still respects the rate
// limit and retry policy.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p, truncated, err := e.prepare(text)
	if err != nil {
		return nil, err
	}
	if truncated {
		e.logger.Warn("query text truncated to maximum sequence length",
			zap.Int("max_chars", e.cfg.MaxSequenceChars),
		)
	}

	var embedding []float32
	err = retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", faults.ErrTransient, err)
		}
		vec, err := e.backend.Embed(ctx, p)
		if err != nil {
			return err
		}
		embedding = vec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

// prepare applies the truncation policy to one input text.
func (e *Engine) prepare(text string) (string, bool, error) {
	runes := []rune(text)
	if len(runes) <= e.cfg.MaxSequenceChars {
		return text, false, nil
	}
	if e.cfg.DisableTruncation {
		return "", false, fmt.Errorf("%w: %w: %d runes exceeds %d",
			faults.ErrValidation, ErrTooLong, len(runes), e.cfg.MaxSequenceChars)
	}
	return string(runes[:e.cfg.MaxSequenceChars]), true, nil
}

// planBatches groups embeddable slot indices into batches respecting the
// batch size and token budget. Order within and across batches follows the
// input order, preserving positional vector assignment.
func (e *Engine) planBatches(prepared []string, embeddable []int) [][]int {
	var batches [][]int
	var current []int
	tokens := 0

	for _, idx := range embeddable {
		t := document.CountTokens(prepared[idx])
		if len(current) > 0 && (len(current) >= e.cfg.MaxBatchSize || tokens+t > e.cfg.MaxBatchTokens) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, idx)
		tokens += t
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// embedBatch performs one rate-limited, retried backend call and assigns
// vectors positionally. A total failure marks every slot in the batch; no
// input is ever silently dropped.
func (e *Engine) embedBatch(ctx context.Context, prepared []string, results []Result, batch []int) {
	texts := make([]string, len(batch))
	for i, idx := range batch {
		texts[i] = prepared[idx]
	}

	var vectors [][]float32
	err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", faults.ErrTransient, err)
		}
		v, err := e.backend.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbedding, len(v), len(texts))
		}
		vectors = v
		return nil
	})
	if err != nil {
		e.logger.Warn("embedding batch failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		e.failBatch(results, batch, err)
		return
	}

	for i, idx := range batch {
		results[idx].Embedding = vectors[i]
	}
}

func (e *Engine) failBatch(results []Result, batch []int, err error) {
	for _, idx := range batch {
		results[idx].Err = err
	}
}
