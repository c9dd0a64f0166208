// Package ingest provides the asynchronous ingestion pipeline: it takes
// accepted upload bytes through extraction, chunking, embedding, and vector
// indexing, driving the document status lifecycle as it goes.
//
// The pool decouples pipeline work from the HTTP hot path. One document is
// processed by exactly one worker at a time, so its index upserts are
// serialized and re-ingestion supersedes prior vectors via overwrite.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/embeddings"
	"github.com/knowledgeco/companion/pkg/eventstream"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/storage"
	"github.com/knowledgeco/companion/pkg/utils"
	"github.com/knowledgeco/companion/pkg/vector"
)

var (
	defaultNumWorkers  uint = 3
	defaultQueueSize   uint = 64
	defaultUpsertBatch      = 64

	// DefaultErrorTolerance is the fraction of a document's chunks that may
	// fail embedding before the whole attempt fails.
	DefaultErrorTolerance = 0.1

	// DefaultAttemptTimeout bounds one ingestion attempt end to end.
	DefaultAttemptTimeout = 10 * time.Minute

	// errCancelled fails a cancelled attempt; its message becomes the
	// stored failure reason.
	errCancelled = errors.New("ingestion attempt cancelled")
)

// Job is one ingestion attempt: a document ID and the raw upload bytes.
type Job struct {
	DocumentID string
	Data       []byte
}

// Config is the configuration options for the ingestion orchestrator.
type Config struct {
	// Driver is the primary document and chunk store.
	Driver storage.Driver

	// Extractors maps document types to their extraction drivers.
	Extractors extract.Registry

	// Chunker splits extracted text.
	Chunker *chunker.Chunker

	// Engine embeds chunk texts.
	Engine *embeddings.Engine

	// Index stores chunk vectors.
	Index vector.Index

	// Publisher receives status transition events. Publishing is
	// best-effort; failures are logged and never fail an attempt.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel.
	QueueSize uint

	// ErrorTolerance is the failed-chunk fraction above which an attempt
	// fails. Defaults to DefaultErrorTolerance.
	ErrorTolerance float64

	// AttemptTimeout bounds one attempt. Defaults to DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// UpsertBatchSize is how many vectors go into one index upsert call.
	UpsertBatchSize int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Orchestrator runs ingestion attempts on a worker pool.
type Orchestrator struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]func()
	closed  bool
}

// NewOrchestrator creates the orchestrator and starts its workers.
func NewOrchestrator(c *Config) (*Orchestrator, error) {
	if c.Driver == nil || c.Chunker == nil || c.Engine == nil || c.Index == nil {
		return nil, fmt.Errorf("driver, chunker, engine, and index are required")
	}
	if len(c.Extractors) == 0 {
		return nil, fmt.Errorf("at least one extractor is required")
	}
	if c.Publisher == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.ErrorTolerance <= 0 {
		c.ErrorTolerance = DefaultErrorTolerance
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = defaultUpsertBatch
	}

	o := &Orchestrator{
		config:  c,
		queue:   make(chan Job, c.QueueSize),
		logger:  c.Logger,
		cancels: make(map[string]func()),
	}

	o.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go o.worker(i)
	}

	return o, nil
}

// Enqueue submits an ingestion attempt. Returns true if enqueued, false if
// the queue is full and the job was dropped; callers surface that as
// backpressure.
func (o *Orchestrator) Enqueue(job Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	select {
	case o.queue <- job:
		o.logger.Debug("ingestion job queued",
			zap.String("document_id", job.DocumentID),
			zap.Int("size_bytes", len(job.Data)),
		)
		return true
	default:
		o.logger.Error("ingestion job dropped, queue full",
			zap.String("document_id", job.DocumentID),
		)
		return false
	}
}

// Cancel stops the in-flight attempt for the document, if any. The attempt
// issues no further backend calls but lets the call already in flight finish,
// then lands in failed with a cancellation reason. Returns whether an attempt
// was actually cancelled.
func (o *Orchestrator) Cancel(documentID string) bool {
	o.mu.Lock()
	stop, ok := o.cancels[documentID]
	o.mu.Unlock()

	if ok {
		stop()
	}
	return ok
}

// Close stops accepting jobs and waits for in-flight attempts to drain. Call
// during graceful shutdown after the HTTP server has stopped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	// Closing under the same lock Enqueue sends under, so no send can race
	// the close.
	close(o.queue)
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) worker(id uint) {
	defer o.wg.Done()
	o.logger.Debug("ingestion worker started", zap.Uint("worker_id", id))

	for job := range o.queue {
		o.processJob(job)
	}

	o.logger.Debug("ingestion worker stopped", zap.Uint("worker_id", id))
}

func (o *Orchestrator) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.AttemptTimeout)
	defer cancel()

	// Cancellation is a stop signal checked between pipeline stages, not a
	// context cancel: the backend call in flight runs to completion under
	// the attempt timeout.
	stop := make(chan struct{})
	var once sync.Once

	o.mu.Lock()
	o.cancels[job.DocumentID] = func() { once.Do(func() { close(stop) }) }
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, job.DocumentID)
		o.mu.Unlock()
	}()

	start := time.Now()
	if err := o.runAttempt(ctx, stop, job); err != nil {
		o.fail(job.DocumentID, err)
		return
	}

	o.transition(job.DocumentID, document.StatusReady, "")
	o.logger.Info("document ingested",
		zap.String("document_id", job.DocumentID),
		zap.Duration("took", time.Since(start)),
	)
}

// stopped reports whether the attempt's stop signal has fired.
func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// runAttempt executes one full ingestion attempt. Any returned error fails
// the attempt with its message as the stored failure reason. The stop signal
// is checked between stages so cancellation never interrupts a backend call
// already in flight.
func (o *Orchestrator) runAttempt(ctx context.Context, stop <-chan struct{}, job Job) error {
	if err := o.transition(job.DocumentID, document.StatusProcessing, ""); err != nil {
		return fmt.Errorf("starting attempt: %w", err)
	}

	doc, err := o.config.Driver.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	extractor, err := o.config.Extractors.For(doc.Type)
	if err != nil {
		return fmt.Errorf("resolving extractor for %q: %w", doc.Type, err)
	}

	if stopped(stop) {
		return errCancelled
	}

	result, err := extractor.Extract(ctx, job.Data)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	o.applyMetadata(ctx, doc, result.Info, int64(len(job.Data)))

	chunks, err := o.config.Chunker.Split(doc.ID, result.Pages)
	if err != nil {
		return fmt.Errorf("chunking text: %w", err)
	}

	if stopped(stop) {
		return errCancelled
	}

	if err := o.config.Driver.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	if stopped(stop) {
		return errCancelled
	}

	embedded, failed, err := o.embed(ctx, chunks)
	if err != nil {
		return err
	}
	if failed > 0 {
		o.logger.Warn("document embedded with partial failures",
			zap.String("document_id", doc.ID),
			zap.Int("chunks", len(chunks)),
			zap.Int("failed", failed),
		)
	}

	if stopped(stop) {
		return errCancelled
	}

	if err := o.index(ctx, stop, doc.ID, embedded); err != nil {
		return err
	}

	return ctx.Err()
}

// embeddedChunk pairs a chunk with its vector for indexing.
type embeddedChunk struct {
	chunk     document.TextChunk
	embedding []float32
}

// embed runs the chunk texts through the embedding engine and applies the
// error tolerance: an attempt survives individual chunk failures up to the
// configured fraction, and the surviving chunks are still indexed.
func (o *Orchestrator) embed(ctx context.Context, chunks []document.TextChunk) ([]embeddedChunk, int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	results := o.config.Engine.EmbedDocuments(ctx, texts)

	var embedded []embeddedChunk
	failed := 0
	var lastErr error
	for i, r := range results {
		if r.Err != nil {
			failed++
			lastErr = r.Err
			continue
		}
		embedded = append(embedded, embeddedChunk{chunk: chunks[i], embedding: r.Embedding})
	}

	if failed > 0 {
		allowed := int(math.Floor(o.config.ErrorTolerance * float64(len(chunks))))
		if failed > allowed {
			return nil, failed, fmt.Errorf("embedding failed for %d of %d chunks (tolerance %d): %w",
				failed, len(chunks), allowed, lastErr)
		}
	}

	return embedded, failed, nil
}

// index upserts the embedded chunks in bounded batches, sequentially, then
// records the vector IDs on the chunks. Vector ID equals chunk ID, so a
// re-ingestion that yields identical chunks overwrites rather than
// duplicates.
func (o *Orchestrator) index(ctx context.Context, stop <-chan struct{}, documentID string, embedded []embeddedChunk) error {
	batchSize := o.config.UpsertBatchSize

	vectorIDs := make(map[string]string, len(embedded))
	for start := 0; start < len(embedded); start += batchSize {
		if stopped(stop) {
			return errCancelled
		}
		end := start + batchSize
		if end > len(embedded) {
			end = len(embedded)
		}

		items := make([]vector.Item, 0, end-start)
		for _, ec := range embedded[start:end] {
			meta := vector.Metadata{
				DocumentID: documentID,
				ChunkID:    ec.chunk.ID,
			}
			if ec.chunk.PageNumber != nil {
				meta.PageNumber = *ec.chunk.PageNumber
			}
			items = append(items, vector.Item{
				ID:        ec.chunk.ID,
				Embedding: ec.embedding,
				Meta:      meta,
			})
			vectorIDs[ec.chunk.ID] = ec.chunk.ID
		}

		if err := o.config.Index.Upsert(ctx, items); err != nil {
			return fmt.Errorf("indexing vectors: %w", err)
		}
	}

	if err := o.config.Driver.SetChunkVectorIDs(ctx, vectorIDs); err != nil {
		return fmt.Errorf("recording vector ids: %w", err)
	}

	return nil
}

// applyMetadata stores extraction metadata on the document record. Failures
// here are logged, not fatal; metadata is advisory.
func (o *Orchestrator) applyMetadata(ctx context.Context, doc *document.Document, info extract.Info, sizeBytes int64) {
	if info.Title != "" {
		doc.Title = info.Title
	}
	if info.Author != "" {
		doc.Author = info.Author
	}
	if info.PageCount > 0 {
		doc.PageCount = info.PageCount
	}
	if sizeBytes > 0 {
		doc.SizeBytes = sizeBytes
	}

	if err := o.config.Driver.UpdateDocument(ctx, doc); err != nil {
		o.logger.Warn("failed to store document metadata",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
}

// maxReasonLen caps the stored failure reason so one pathological error
// chain cannot bloat the documents table.
const maxReasonLen = 512

// fail moves the document to failed, storing the reason.
func (o *Orchestrator) fail(documentID string, cause error) {
	o.logger.Error("ingestion attempt failed",
		zap.String("document_id", documentID),
		zap.Error(cause),
	)
	reason := utils.Truncate(cause.Error(), maxReasonLen)
	if err := o.transition(documentID, document.StatusFailed, reason); err != nil {
		o.logger.Error("failed to mark document failed",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
	}
}

// transition applies a status transition and publishes the event. Event
// publishing never fails the transition.
func (o *Orchestrator) transition(documentID string, next document.ProcessingStatus, reason string) error {
	// Status writes use a background context so a cancelled attempt can
	// still land in failed.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	old, err := o.config.Driver.TransitionStatus(ctx, documentID, next, reason)
	if err != nil {
		return err
	}

	event := eventstream.NewStatusChanged(documentID, old, next, reason)
	if err := o.config.Publisher.PublishStatus(ctx, event); err != nil {
		o.logger.Warn("failed to publish status event",
			zap.String("document_id", documentID),
			zap.String("new_status", string(next)),
			zap.Error(err),
		)
	}

	return nil
}
