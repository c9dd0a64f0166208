package document_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/document"
)

var _ = Describe("CountTokens", func() {
	It("counts words as single tokens", func() {
		Expect(document.CountTokens("the quick brown fox")).To(Equal(4))
	})

	It("counts punctuation as separate tokens", func() {
		Expect(document.CountTokens("hello, world!")).To(Equal(4))
	})

	It("treats digit runs like words", func() {
		Expect(document.CountTokens("chapter 42")).To(Equal(2))
		Expect(document.CountTokens("v1")).To(Equal(1))
	})

	It("splits on punctuation inside words", func() {
		// "don't" is don + ' + t
		Expect(document.CountTokens("don't")).To(Equal(3))
	})

	It("returns zero for empty and whitespace-only text", func() {
		Expect(document.CountTokens("")).To(BeZero())
		Expect(document.CountTokens("   \n\t ")).To(BeZero())
	})

	It("handles non-ASCII letters", func() {
		Expect(document.CountTokens("héllo wörld")).To(Equal(2))
	})
})

var _ = Describe("ExcerptText", func() {
	It("returns short text unchanged", func() {
		Expect(document.ExcerptText("short", 100)).To(Equal("short"))
	})

	It("trims surrounding whitespace", func() {
		Expect(document.ExcerptText("  padded  ", 100)).To(Equal("padded"))
	})

	It("truncates long text with an ellipsis", func() {
		long := strings.Repeat("a", 100)
		got := document.ExcerptText(long, 10)
		Expect(got).To(Equal(strings.Repeat("a", 10) + "…"))
	})

	It("counts runes rather than bytes", func() {
		got := document.ExcerptText(strings.Repeat("é", 20), 5)
		Expect([]rune(got)).To(HaveLen(6))
	})

	It("treats a non-positive max as unlimited", func() {
		long := strings.Repeat("a", 100)
		Expect(document.ExcerptText(long, 0)).To(Equal(long))
	})
})
