package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/storage"
	"github.com/knowledgeco/companion/pkg/storage/inmemory"
)

var _ = Describe("InMemory Driver", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
	)

	newDoc := func(id string) *document.Document {
		return &document.Document{
			ID:     id,
			Type:   document.TypeWebPage,
			Status: document.StatusLocal,
		}
	}

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		ctx = context.Background()
	})

	It("round-trips a document", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())

		got, err := driver.GetDocument(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal("doc-1"))
		Expect(got.Status).To(Equal(document.StatusLocal))
	})

	It("returns ErrNotFound for unknown documents", func() {
		_, err := driver.GetDocument(ctx, "missing")
		Expect(storage.IsNotFound(err)).To(BeTrue())
	})

	It("rejects duplicate creates", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).NotTo(Succeed())
	})

	It("enforces the status transition set", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())

		old, err := driver.TransitionStatus(ctx, "doc-1", document.StatusUploading, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(old).To(Equal(document.StatusLocal))

		_, err = driver.TransitionStatus(ctx, "doc-1", document.StatusReady, "")
		Expect(err).To(HaveOccurred())
	})

	It("allows re-ingestion transitions from terminal states", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())
		for _, next := range []document.ProcessingStatus{
			document.StatusUploading,
			document.StatusProcessing,
			document.StatusReady,
		} {
			_, err := driver.TransitionStatus(ctx, "doc-1", next, "")
			Expect(err).NotTo(HaveOccurred())
		}

		old, err := driver.TransitionStatus(ctx, "doc-1", document.StatusProcessing, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(old).To(Equal(document.StatusReady))
	})

	It("replaces chunk sets atomically and orders them by offset", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())
		Expect(driver.ReplaceChunks(ctx, "doc-1", []document.TextChunk{
			{ID: "c-2", DocumentID: "doc-1", CharStart: 350, CharEnd: 700},
			{ID: "c-1", DocumentID: "doc-1", CharStart: 0, CharEnd: 400},
		})).To(Succeed())

		chunks, err := driver.GetChunks(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].ID).To(Equal("c-1"))
		Expect(chunks[1].ID).To(Equal("c-2"))
	})

	It("deletes chunks with their document", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())
		Expect(driver.ReplaceChunks(ctx, "doc-1", []document.TextChunk{
			{ID: "c-1", DocumentID: "doc-1"},
		})).To(Succeed())

		Expect(driver.DeleteDocument(ctx, "doc-1")).To(Succeed())

		chunks, err := driver.GetChunksByIDs(ctx, []string{"c-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(BeEmpty())
	})

	It("records vector IDs on chunks", func() {
		Expect(driver.CreateDocument(ctx, newDoc("doc-1"))).To(Succeed())
		Expect(driver.ReplaceChunks(ctx, "doc-1", []document.TextChunk{
			{ID: "c-1", DocumentID: "doc-1"},
		})).To(Succeed())

		Expect(driver.SetChunkVectorIDs(ctx, map[string]string{"c-1": "c-1"})).To(Succeed())

		chunks, err := driver.GetChunks(ctx, "doc-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks[0].VectorID).NotTo(BeNil())
	})
})
