package memory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/vector"
	"github.com/knowledgeco/companion/pkg/vector/memory"
)

func item(id, docID string, page int, emb []float32) vector.Item {
	return vector.Item{
		ID:        id,
		Embedding: emb,
		Meta: vector.Metadata{
			DocumentID: docID,
			ChunkID:    "chunk-" + id,
			PageNumber: page,
		},
	}
}

var _ = Describe("Memory Index", func() {
	var idx *memory.Index

	BeforeEach(func() {
		idx = memory.NewIndex()
	})

	Describe("Upsert", func() {
		It("stores items", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{1, 0, 0}),
				item("vec-2", "doc-a", 2, []float32{0, 1, 0}),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(idx.Len()).To(Equal(2))
		})

		It("replaces an existing ID instead of duplicating it", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{1, 0, 0}),
			})
			Expect(err).NotTo(HaveOccurred())

			err = idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-b", 3, []float32{0, 1, 0}),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(idx.Len()).To(Equal(1))

			stored, ok := idx.Get("vec-1")
			Expect(ok).To(BeTrue())
			Expect(stored.Meta.DocumentID).To(Equal("doc-b"))
			Expect(stored.Meta.PageNumber).To(Equal(3))
		})

		It("rejects a dimension mismatch after the first item fixes it", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{1, 0, 0}),
			})
			Expect(err).NotTo(HaveOccurred())

			err = idx.Upsert(context.Background(), []vector.Item{
				item("vec-2", "doc-a", 2, []float32{1, 0}),
			})
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})

		It("copies embeddings so caller mutation does not leak in", func() {
			emb := []float32{1, 0, 0}
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, emb),
			})
			Expect(err).NotTo(HaveOccurred())

			emb[0] = 0

			stored, ok := idx.Get("vec-1")
			Expect(ok).To(BeTrue())
			Expect(stored.Embedding[0]).To(Equal(float32(1)))
		})
	})

	Describe("Query", func() {
		BeforeEach(func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{1, 0, 0}),
				item("vec-2", "doc-a", 2, []float32{0.9, 0.1, 0}),
				item("vec-3", "doc-b", 1, []float32{0, 1, 0}),
				item("vec-4", "doc-b", 2, []float32{0, 0, 1}),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the most similar items first", func() {
			results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("vec-1"))
			Expect(results[1].ID).To(Equal("vec-2"))
		})

		It("normalizes scores into [0, 1]", func() {
			results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			for _, r := range results {
				Expect(r.Score).To(BeNumerically(">=", 0))
				Expect(r.Score).To(BeNumerically("<=", 1))
			}
		})

		It("breaks score ties by ascending ID", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-6", "doc-c", 1, []float32{0, 1, 0}),
				item("vec-5", "doc-c", 1, []float32{0, 1, 0}),
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := idx.Query(context.Background(), []float32{0, 1, 0}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ID).To(Equal("vec-3"))
			Expect(results[1].ID).To(Equal("vec-5"))
			Expect(results[2].ID).To(Equal("vec-6"))
		})

		It("applies the document filter", func() {
			results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, &vector.Filter{
				DocumentIDs: []string{"doc-b"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.Meta.DocumentID).To(Equal("doc-b"))
			}
		})

		It("matches everything with a nil filter", func() {
			results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(4))
		})

		It("rejects a query with the wrong dimension", func() {
			_, err := idx.Query(context.Background(), []float32{1, 0}, 10, nil)
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{1, 0, 0}),
				item("vec-2", "doc-a", 2, []float32{0, 1, 0}),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes items by ID", func() {
			Expect(idx.Delete(context.Background(), []string{"vec-1"})).To(Succeed())
			Expect(idx.Len()).To(Equal(1))
			_, ok := idx.Get("vec-1")
			Expect(ok).To(BeFalse())
		})

		It("ignores unknown IDs", func() {
			Expect(idx.Delete(context.Background(), []string{"nope"})).To(Succeed())
			Expect(idx.Len()).To(Equal(2))
		})
	})
})
