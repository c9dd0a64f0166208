package extract_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/extract"
)

var _ = Describe("HTMLText", func() {
	It("extracts visible text and the title", func() {
		raw := []byte(`<html><head><title>My Page</title></head>
<body><p>First paragraph.</p><p>Second paragraph.</p></body></html>`)

		text, title := extract.HTMLText(raw)
		Expect(title).To(Equal("My Page"))
		Expect(text).To(Equal("First paragraph.\nSecond paragraph."))
	})

	It("drops script and style content", func() {
		raw := []byte(`<html><body>
<script>var hidden = "nope";</script>
<style>.x { color: red }</style>
<p>Visible.</p></body></html>`)

		text, _ := extract.HTMLText(raw)
		Expect(text).To(Equal("Visible."))
		Expect(text).NotTo(ContainSubstring("hidden"))
		Expect(text).NotTo(ContainSubstring("color"))
	})

	It("collapses whitespace within a block", func() {
		raw := []byte("<p>spaced    out\n\ttext</p>")

		text, _ := extract.HTMLText(raw)
		Expect(text).To(Equal("spaced out text"))
	})

	It("separates block elements with newlines", func() {
		raw := []byte("<h1>Heading</h1><div>Body one</div><li>Item</li>")

		text, _ := extract.HTMLText(raw)
		Expect(text).To(Equal("Heading\nBody one\nItem"))
	})

	It("returns empty text for markup-only input", func() {
		text, _ := extract.HTMLText([]byte("<div><span></span></div>"))
		Expect(text).To(BeEmpty())
	})
})

var _ = Describe("Registry", func() {
	It("returns ErrUnsupportedType for unregistered types", func() {
		r := extract.Registry{}
		_, err := r.For("pdf")
		Expect(err).To(MatchError(extract.ErrUnsupportedType))
	})
})
