package sqlitevec_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/vector"
	"github.com/knowledgeco/companion/pkg/vector/sqlitevec"
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

var _ = Describe("SQLiteVec Index", func() {
	var logger *zap.Logger

	BeforeEach(func() {
		logger = zap.NewNop()
	})

	Describe("NewIndex", func() {
		It("returns an error when DBPath is empty", func() {
			_, err := sqlitevec.NewIndex(sqlitevec.Config{DBPath: ""}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("creates an index with an in-memory database", func() {
			idx, err := sqlitevec.NewIndex(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(idx).NotTo(BeNil())
			Expect(idx.Close()).To(Succeed())
		})

		It("errors when dimension not specified", func() {
			_, err := sqlitevec.NewIndex(sqlitevec.Config{
				DBPath: ":memory:",
			}, logger)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Upsert", func() {
		var idx *sqlitevec.Index

		BeforeEach(func() {
			var err error
			idx, err = sqlitevec.NewIndex(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(idx.Close()).To(Succeed())
		})

		It("does nothing when given no items", func() {
			Expect(idx.Upsert(context.Background(), nil)).To(Succeed())
		})

		It("rejects a dimension mismatch without retrying semantics", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{0.1, 0.2}),
			})
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})

		It("stores items and makes them queryable", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{0.1, 0.1, 0.1, 0.1}),
				item("vec-2", "doc-a", 2, []float32{0.9, 0.9, 0.9, 0.9}),
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := idx.Query(context.Background(), []float32{0.1, 0.1, 0.1, 0.1}, 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("vec-1"))
			Expect(results[0].Meta.DocumentID).To(Equal("doc-a"))
			Expect(results[0].Meta.PageNumber).To(Equal(1))
		})

		It("overwrites an existing vector ID with new embedding and metadata", func() {
			err := idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{0.1, 0.1, 0.1, 0.1}),
			})
			Expect(err).NotTo(HaveOccurred())

			err = idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-b", 7, []float32{0.9, 0.9, 0.9, 0.9}),
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := idx.Query(context.Background(), []float32{0.9, 0.9, 0.9, 0.9}, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("vec-1"))
			Expect(results[0].Meta.DocumentID).To(Equal("doc-b"))
			Expect(results[0].Meta.PageNumber).To(Equal(7))
		})
	})

	Describe("Query", func() {
		var idx *sqlitevec.Index

		BeforeEach(func() {
			var err error
			idx, err = sqlitevec.NewIndex(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())

			err = idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{0.1, 0.1, 0.1, 0.1}),
				item("vec-2", "doc-a", 2, []float32{0.2, 0.2, 0.2, 0.2}),
				item("vec-3", "doc-b", 1, []float32{0.3, 0.3, 0.3, 0.3}),
				item("vec-4", "doc-b", 2, []float32{0.4, 0.4, 0.4, 0.4}),
				item("vec-5", "doc-c", 1, []float32{0.5, 0.5, 0.5, 0.5}),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(idx.Close()).To(Succeed())
		})

		It("returns the closest items first", func() {
			results, err := idx.Query(context.Background(), []float32{0.3, 0.3, 0.3, 0.3}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ID).To(Equal("vec-3"))
		})

		It("respects the topK limit", func() {
			results, err := idx.Query(context.Background(), []float32{0.3, 0.3, 0.3, 0.3}, 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("returns scores in non-increasing order", func() {
			results, err := idx.Query(context.Background(), []float32{0.3, 0.3, 0.3, 0.3}, 5, nil)
			Expect(err).NotTo(HaveOccurred())
			for i := 1; i < len(results); i++ {
				Expect(results[i-1].Score).To(BeNumerically(">=", results[i].Score))
			}
		})

		It("restricts results to the document filter", func() {
			results, err := idx.Query(context.Background(), []float32{0.3, 0.3, 0.3, 0.3}, 5, &vector.Filter{
				DocumentIDs: []string{"doc-b"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.Meta.DocumentID).To(Equal("doc-b"))
			}
		})

		It("rejects a query embedding with the wrong dimension", func() {
			_, err := idx.Query(context.Background(), []float32{0.3}, 5, nil)
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})
	})

	Describe("Delete", func() {
		var idx *sqlitevec.Index

		BeforeEach(func() {
			var err error
			idx, err = sqlitevec.NewIndex(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())

			err = idx.Upsert(context.Background(), []vector.Item{
				item("vec-1", "doc-a", 1, []float32{0.1, 0.1, 0.1, 0.1}),
				item("vec-2", "doc-a", 2, []float32{0.2, 0.2, 0.2, 0.2}),
				item("vec-3", "doc-b", 1, []float32{0.3, 0.3, 0.3, 0.3}),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(idx.Close()).To(Succeed())
		})

		It("does nothing when given no IDs", func() {
			Expect(idx.Delete(context.Background(), nil)).To(Succeed())
		})

		It("removes deleted items from query results", func() {
			Expect(idx.Delete(context.Background(), []string{"vec-3"})).To(Succeed())

			results, err := idx.Query(context.Background(), []float32{0.3, 0.3, 0.3, 0.3}, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.ID).NotTo(Equal("vec-3"))
			}
		})

		It("does not error for unknown IDs", func() {
			Expect(idx.Delete(context.Background(), []string{"nonexistent"})).To(Succeed())
		})
	})
})
