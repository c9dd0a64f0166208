package ingest_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/embeddings"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/ingest"
	"github.com/knowledgeco/companion/pkg/storage/inmemory"
	testutils "github.com/knowledgeco/companion/pkg/utils/test"
)

// longText is sized to produce several chunks with the test chunker config.
var longText = strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)

var _ = Describe("Orchestrator", func() {
	var (
		driver    *inmemory.Driver
		extractor *testutils.MockExtractor
		backend   *testutils.MockEmbedder
		index     *testutils.MockIndex
		publisher *testutils.MockPublisher
		splitter  *chunker.Chunker
		ctx       context.Context
	)

	newOrchestrator := func(tolerance float64) *ingest.Orchestrator {
		engine, err := embeddings.NewEngine(backend, embeddings.EngineConfig{
			MaxBatchSize:  1,
			RatePerSecond: 10000,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		o, err := ingest.NewOrchestrator(&ingest.Config{
			Driver: driver,
			Extractors: extract.Registry{
				document.TypeWebPage: extractor,
			},
			Chunker:        splitter,
			Engine:         engine,
			Index:          index,
			Publisher:      publisher,
			NumWorkers:     1,
			ErrorTolerance: tolerance,
			Logger:         zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	createUploadedDoc := func(id string) {
		doc := &document.Document{
			ID:     id,
			Type:   document.TypeWebPage,
			Status: document.StatusLocal,
		}
		Expect(driver.CreateDocument(ctx, doc)).To(Succeed())
		_, err := driver.TransitionStatus(ctx, id, document.StatusUploading, "")
		Expect(err).NotTo(HaveOccurred())
	}

	splitChunks := func(id string) []document.TextChunk {
		chunks, err := splitter.Split(id, []chunker.Page{{Number: 0, Text: longText}})
		Expect(err).NotTo(HaveOccurred())
		return chunks
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		backend = testutils.NewMockEmbedder()
		index = testutils.NewMockIndex()
		publisher = testutils.NewMockPublisher()
		extractor = testutils.NewMockExtractor(&extract.Result{
			Pages: []chunker.Page{{Number: 0, Text: longText}},
			Info:  extract.Info{Title: "Fox Story"},
		})

		var err error
		splitter, err = chunker.New(chunker.Config{Size: 200, Overlap: 40})
		Expect(err).NotTo(HaveOccurred())
	})

	It("ingests a document to ready", func() {
		createUploadedDoc("doc-1")
		o := newOrchestrator(0.1)

		Expect(o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})).To(BeTrue())
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusReady))
		Expect(doc.Title).To(Equal("Fox Story"))
		Expect(doc.FailureReason).To(BeEmpty())

		chunks, err := driver.GetChunks(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).NotTo(BeEmpty())
		for _, c := range chunks {
			Expect(c.VectorID).NotTo(BeNil())
			Expect(*c.VectorID).To(Equal(c.ID))
		}

		Expect(index.Len()).To(Equal(len(chunks)))
	})

	It("publishes processing then ready transitions", func() {
		createUploadedDoc("doc-1")
		o := newOrchestrator(0.1)

		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		Expect(publisher.Transitions()).To(Equal([]string{"processing", "ready"}))
		Expect(publisher.Events[0].OldStatus).To(Equal(document.StatusUploading))
		Expect(publisher.Events[1].OldStatus).To(Equal(document.StatusProcessing))
	})

	It("fails the document when extraction fails", func() {
		createUploadedDoc("doc-1")
		extractor.Err = faults.Irrecoverable(extract.ErrCorrupt)
		o := newOrchestrator(0.1)

		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("bad bytes")})
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusFailed))
		Expect(doc.FailureReason).To(ContainSubstring("extracting text"))

		Expect(publisher.Transitions()).To(Equal([]string{"processing", "failed"}))
		Expect(publisher.Events[1].Reason).NotTo(BeEmpty())
	})

	It("tolerates chunk embedding failures within the tolerance", func() {
		createUploadedDoc("doc-1")
		chunks := splitChunks("doc-1")
		Expect(len(chunks)).To(BeNumerically(">=", 4))
		backend.FailOn = chunks[1].Text

		o := newOrchestrator(0.5)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusReady))

		// The failed chunk is stored but unindexed.
		Expect(index.Len()).To(Equal(len(chunks) - 1))
		stored, err := driver.GetChunks(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(len(chunks)))
	})

	It("fails the attempt when failures exceed the tolerance", func() {
		createUploadedDoc("doc-1")
		backend.FailAll = true

		o := newOrchestrator(0.1)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusFailed))
		Expect(doc.FailureReason).To(ContainSubstring("embedding failed"))
	})

	It("re-ingests a ready document without duplicating vectors", func() {
		createUploadedDoc("doc-1")

		o := newOrchestrator(0.1)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		firstCount := index.Len()
		Expect(firstCount).To(BeNumerically(">", 0))

		o = newOrchestrator(0.1)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusReady))
		Expect(index.Len()).To(Equal(firstCount))
	})

	It("refuses jobs after Close", func() {
		o := newOrchestrator(0.1)
		o.Close()
		Expect(o.Enqueue(ingest.Job{DocumentID: "doc-1"})).To(BeFalse())
	})

	It("reports no cancellation for idle documents", func() {
		o := newOrchestrator(0.1)
		defer o.Close()
		Expect(o.Cancel("nothing-in-flight")).To(BeFalse())
	})

	It("fails a cancelled attempt after the in-flight call finishes", func() {
		createUploadedDoc("doc-1")
		chunks := splitChunks("doc-1")
		backend.Started = make(chan struct{}, 1)
		backend.Gate = make(chan struct{})

		o := newOrchestrator(0.1)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})

		Eventually(backend.Started).Should(Receive())
		Expect(o.Cancel("doc-1")).To(BeTrue())

		close(backend.Gate)
		o.Close()

		doc, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Status).To(Equal(document.StatusFailed))
		Expect(doc.FailureReason).To(ContainSubstring("cancelled"))

		// The embedding pass already in flight ran to completion; the
		// attempt stopped before indexing anything.
		Expect(backend.Calls).To(Equal(len(chunks)))
		Expect(index.Len()).To(BeZero())
	})

	It("fails a document whose upload never happened", func() {
		doc := &document.Document{
			ID:     "doc-1",
			Type:   document.TypeWebPage,
			Status: document.StatusLocal,
		}
		Expect(driver.CreateDocument(ctx, doc)).To(Succeed())

		o := newOrchestrator(0.1)
		o.Enqueue(ingest.Job{DocumentID: "doc-1", Data: []byte("raw")})
		o.Close()

		// local cannot transition to processing, so the attempt never starts
		// and the document stays local.
		got, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(document.StatusLocal))
	})
})
