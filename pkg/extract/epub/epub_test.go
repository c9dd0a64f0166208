package epub_test

import (
	"archive/zip"
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/extract/epub"
	"github.com/knowledgeco/companion/pkg/faults"
)

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const contentOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>A. Writer</dc:creator>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

func buildEpub(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Extractor", func() {
	var e *epub.Extractor

	BeforeEach(func() {
		e = epub.NewExtractor()
	})

	It("extracts spine items in order as pages", func() {
		data := buildEpub(map[string]string{
			"META-INF/container.xml": containerXML,
			"OEBPS/content.opf":      contentOPF,
			"OEBPS/ch1.xhtml":        `<html><body><p>Chapter one text.</p></body></html>`,
			"OEBPS/ch2.xhtml":        `<html><body><p>Chapter two text.</p></body></html>`,
		})

		result, err := e.Extract(context.Background(), data)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pages).To(HaveLen(2))
		Expect(result.Pages[0].Number).To(Equal(1))
		Expect(result.Pages[0].Text).To(Equal("Chapter one text."))
		Expect(result.Pages[1].Number).To(Equal(2))
		Expect(result.Pages[1].Text).To(Equal("Chapter two text."))
	})

	It("recovers title and author from the package metadata", func() {
		data := buildEpub(map[string]string{
			"META-INF/container.xml": containerXML,
			"OEBPS/content.opf":      contentOPF,
			"OEBPS/ch1.xhtml":        `<html><body><p>Text.</p></body></html>`,
		})

		result, err := e.Extract(context.Background(), data)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Info.Title).To(Equal("Test Book"))
		Expect(result.Info.Author).To(Equal("A. Writer"))
		Expect(result.Info.PageCount).To(Equal(2))
	})

	It("skips spine items whose files are missing", func() {
		data := buildEpub(map[string]string{
			"META-INF/container.xml": containerXML,
			"OEBPS/content.opf":      contentOPF,
			"OEBPS/ch2.xhtml":        `<html><body><p>Only chapter two.</p></body></html>`,
		})

		result, err := e.Extract(context.Background(), data)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pages).To(HaveLen(1))
		Expect(result.Pages[0].Number).To(Equal(2))
	})

	It("rejects non-zip bytes as corrupt", func() {
		_, err := e.Extract(context.Background(), []byte("definitely not a zip"))
		Expect(err).To(MatchError(extract.ErrCorrupt))
		Expect(faults.IsIrrecoverable(err)).To(BeTrue())
	})

	It("rejects archives without container.xml", func() {
		data := buildEpub(map[string]string{
			"mimetype": "application/epub+zip",
		})

		_, err := e.Extract(context.Background(), data)
		Expect(err).To(MatchError(extract.ErrCorrupt))
	})

	It("rejects books with no extractable text", func() {
		data := buildEpub(map[string]string{
			"META-INF/container.xml": containerXML,
			"OEBPS/content.opf":      contentOPF,
			"OEBPS/ch1.xhtml":        `<html><body><div></div></body></html>`,
		})

		_, err := e.Extract(context.Background(), data)
		Expect(err).To(MatchError(extract.ErrNoText))
	})
})
