package query_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/embeddings"
	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/query"
	"github.com/knowledgeco/companion/pkg/retry"
	"github.com/knowledgeco/companion/pkg/storage/inmemory"
	"github.com/knowledgeco/companion/pkg/synthesis"
	testutils "github.com/knowledgeco/companion/pkg/utils/test"
	"github.com/knowledgeco/companion/pkg/vector"
)

var _ = Describe("Orchestrator", func() {
	var (
		driver    *inmemory.Driver
		backend   *testutils.MockEmbedder
		index     *testutils.MockIndex
		generator *testutils.MockGenerator
		ctx       context.Context
	)

	newOrchestrator := func(cfg query.Config) *query.Orchestrator {
		engine, err := embeddings.NewEngine(backend, embeddings.EngineConfig{
			RatePerSecond: 10000,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		if cfg.Retry.Attempts == 0 {
			cfg.Retry = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
		}

		o, err := query.NewOrchestrator(driver, engine, index, generator, cfg, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	createReadyDoc := func(id string, chunks ...document.TextChunk) {
		doc := &document.Document{
			ID:     id,
			Type:   document.TypeWebPage,
			Status: document.StatusLocal,
		}
		Expect(driver.CreateDocument(ctx, doc)).To(Succeed())
		for _, next := range []document.ProcessingStatus{
			document.StatusUploading,
			document.StatusProcessing,
			document.StatusReady,
		} {
			_, err := driver.TransitionStatus(ctx, id, next, "")
			Expect(err).NotTo(HaveOccurred())
		}
		if len(chunks) > 0 {
			Expect(driver.ReplaceChunks(ctx, id, chunks)).To(Succeed())
		}
	}

	hit := func(chunkID, docID string, score float32) vector.QueryResult {
		return vector.QueryResult{
			ID:    chunkID,
			Score: score,
			Meta:  vector.Metadata{DocumentID: docID, ChunkID: chunkID},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		backend = testutils.NewMockEmbedder()
		index = testutils.NewMockIndex()
		generator = testutils.NewMockGenerator()
	})

	Describe("validation", func() {
		It("rejects an empty question", func() {
			o := newOrchestrator(query.Config{})
			_, err := o.Answer(ctx, query.Request{Question: "   "})
			Expect(err).To(MatchError(query.ErrEmptyQuestion))
			Expect(faults.IsValidation(err)).To(BeTrue())
		})

		It("rejects an overlong question", func() {
			o := newOrchestrator(query.Config{MaxQuestionChars: 10})
			_, err := o.Answer(ctx, query.Request{Question: strings.Repeat("q", 20)})
			Expect(err).To(MatchError(query.ErrQuestionTooLong))
			Expect(faults.IsValidation(err)).To(BeTrue())
		})

		It("rejects a top_k above the maximum", func() {
			o := newOrchestrator(query.Config{MaxTopK: 10})
			_, err := o.Answer(ctx, query.Request{Question: "what?", TopK: 11})
			Expect(err).To(MatchError(query.ErrInvalidTopK))
			Expect(faults.IsValidation(err)).To(BeTrue())
			Expect(index.QueryCalls).To(BeZero())
		})

		It("rejects a negative top_k", func() {
			o := newOrchestrator(query.Config{})
			_, err := o.Answer(ctx, query.Request{Question: "what?", TopK: -1})
			Expect(err).To(MatchError(query.ErrInvalidTopK))
		})

		It("rejects unknown scoped documents", func() {
			o := newOrchestrator(query.Config{})
			_, err := o.Answer(ctx, query.Request{
				Question:    "what?",
				DocumentIDs: []string{"missing"},
			})
			Expect(err).To(MatchError(query.ErrUnknownDocument))
			Expect(faults.IsValidation(err)).To(BeTrue())
		})

		It("rejects documents that are not ready", func() {
			doc := &document.Document{
				ID:     "doc-1",
				Type:   document.TypeWebPage,
				Status: document.StatusLocal,
			}
			Expect(driver.CreateDocument(ctx, doc)).To(Succeed())

			o := newOrchestrator(query.Config{})
			_, err := o.Answer(ctx, query.Request{
				Question:    "what?",
				DocumentIDs: []string{"doc-1"},
			})
			Expect(err).To(MatchError(query.ErrDocumentNotReady))
		})

		It("hides other owners' documents", func() {
			createReadyDoc("doc-1")

			o := newOrchestrator(query.Config{})
			_, err := o.Answer(ctx, query.Request{
				Question:    "what?",
				DocumentIDs: []string{"doc-1"},
				OwnerID:     "someone-else",
			})
			Expect(err).To(MatchError(query.ErrUnknownDocument))
		})
	})

	Describe("retrieval and synthesis", func() {
		BeforeEach(func() {
			page := 3
			createReadyDoc("doc-1",
				document.TextChunk{ID: "c-1", DocumentID: "doc-1", PageNumber: &page, Text: "highly relevant passage", TokenCount: 3},
				document.TextChunk{ID: "c-2", DocumentID: "doc-1", Text: "barely related aside", TokenCount: 3},
			)
		})

		It("answers with citations above the relevance floor", func() {
			index.Results = []vector.QueryResult{
				hit("c-1", "doc-1", 0.92),
				hit("c-2", "doc-1", 0.10),
			}
			generator.Answer = "a grounded answer"

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what is this about?"})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Answer).To(Equal("a grounded answer"))
			Expect(result.Citations).To(HaveLen(1))
			Expect(result.Citations[0].ChunkID).To(Equal("c-1"))
			Expect(result.Citations[0].DocumentID).To(Equal("doc-1"))
			Expect(*result.Citations[0].PageNumber).To(Equal(3))
			Expect(result.Citations[0].RelevanceScore).To(Equal(float32(0.92)))
			Expect(result.ProcessingTimeMs).To(BeNumerically(">", 0))
		})

		It("hands passages to the generator in relevance order", func() {
			index.Results = []vector.QueryResult{
				hit("c-2", "doc-1", 0.7),
				hit("c-1", "doc-1", 0.9),
			}

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			_, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())

			Expect(generator.Calls).To(HaveLen(1))
			Expect(generator.Calls[0].Passages).To(HaveLen(2))
			Expect(generator.Calls[0].Passages[0].Text).To(Equal("highly relevant passage"))
		})

		It("still synthesizes when nothing clears the floor", func() {
			index.Results = []vector.QueryResult{hit("c-1", "doc-1", 0.05)}
			generator.Answer = "nothing relevant was found"

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Answer).To(Equal("nothing relevant was found"))
			Expect(result.Citations).To(BeEmpty())
			Expect(generator.Calls).To(HaveLen(1))
			Expect(generator.Calls[0].Passages).To(BeEmpty())
		})

		It("still synthesizes over an empty index", func() {
			index.Results = nil

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Answer).To(Equal("mock answer"))
			Expect(result.Citations).To(BeEmpty())
			Expect(generator.Calls).To(HaveLen(1))
			Expect(generator.Calls[0].Passages).To(BeEmpty())
		})

		It("drops stale hits whose chunks no longer exist", func() {
			index.Results = []vector.QueryResult{
				hit("c-gone", "doc-1", 0.95),
				hit("c-1", "doc-1", 0.80),
			}

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Citations).To(HaveLen(1))
			Expect(result.Citations[0].ChunkID).To(Equal("c-1"))
		})

		It("stops adding passages once the token budget is spent", func() {
			big := 50
			Expect(driver.ReplaceChunks(ctx, "doc-1", []document.TextChunk{
				{ID: "c-1", DocumentID: "doc-1", Text: "small chunk", TokenCount: 2},
				{ID: "c-2", DocumentID: "doc-1", Text: strings.Repeat("big ", big), TokenCount: big},
			})).To(Succeed())
			index.Results = []vector.QueryResult{
				hit("c-1", "doc-1", 0.9),
				hit("c-2", "doc-1", 0.8),
			}

			o := newOrchestrator(query.Config{MinRelevance: 0.5, ContextTokens: 10})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Citations).To(HaveLen(1))
			Expect(result.Citations[0].ChunkID).To(Equal("c-1"))
		})

		It("retries transient generation failures", func() {
			index.Results = []vector.QueryResult{hit("c-1", "doc-1", 0.9)}
			generator.TransientFailures = 1

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Answer).To(Equal("mock answer"))
			Expect(generator.Calls).To(HaveLen(2))
		})

		It("maps a blown deadline onto ErrTimeout", func() {
			index.Results = []vector.QueryResult{hit("c-1", "doc-1", 0.9)}
			generator.TransientFailures = 10

			o := newOrchestrator(query.Config{
				MinRelevance: 0.5,
				Timeout:      50 * time.Millisecond,
				Retry:        retry.Policy{Attempts: 10, BaseDelay: 200 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
			})
			_, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).To(MatchError(query.ErrTimeout))
		})

		It("returns citations alongside the error when synthesis is down", func() {
			index.Results = []vector.QueryResult{hit("c-1", "doc-1", 0.9)}
			generator.Err = synthesis.ErrUnavailable

			o := newOrchestrator(query.Config{MinRelevance: 0.5})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).To(MatchError(synthesis.ErrUnavailable))
			Expect(result).NotTo(BeNil())
			Expect(result.Answer).To(BeEmpty())
			Expect(result.Citations).To(HaveLen(1))
		})

		It("truncates citation excerpts", func() {
			long := strings.Repeat("word ", 200)
			Expect(driver.ReplaceChunks(ctx, "doc-1", []document.TextChunk{
				{ID: "c-1", DocumentID: "doc-1", Text: long, TokenCount: 200},
			})).To(Succeed())
			index.Results = []vector.QueryResult{hit("c-1", "doc-1", 0.9)}

			o := newOrchestrator(query.Config{MinRelevance: 0.5, ExcerptChars: 50})
			result, err := o.Answer(ctx, query.Request{Question: "what?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(len([]rune(result.Citations[0].Text))).To(BeNumerically("<=", 51))
			Expect(result.Citations[0].Text).To(HaveSuffix("…"))
		})
	})
})
