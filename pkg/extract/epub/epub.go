// Package epub extracts text and metadata from EPUB archives. An EPUB is a
// zip container; reading order comes from the OPF package document's spine,
// and each spine item becomes one page.
package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/faults"
)

// Extractor implements extract.Extractor for EPUB bytes.
type Extractor struct{}

// NewExtractor creates an EPUB extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// container is META-INF/container.xml, which locates the OPF document.
type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opf is the subset of the package document we need: metadata, the manifest
// mapping item IDs to hrefs, and the spine giving reading order.
type opf struct {
	Metadata struct {
		Title   string `xml:"title"`
		Creator string `xml:"creator"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID   string `xml:"id,attr"`
			Href string `xml:"href,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// Extract walks the spine and extracts text from each content document.
// Spine positions are used as 1-based page numbers.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*extract.Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: opening archive: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[f.Name] = f
	}

	opfPath, err := rootfilePath(files)
	if err != nil {
		return nil, err
	}

	pkg, err := readOPF(files, opfPath)
	if err != nil {
		return nil, err
	}

	hrefs := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefs[item.ID] = item.Href
	}

	base := path.Dir(opfPath)
	pages := make([]chunker.Page, 0, len(pkg.Spine.ItemRefs))

	for i, ref := range pkg.Spine.ItemRefs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", faults.ErrTransient, err)
		}

		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		f, ok := files[resolvePath(base, href)]
		if !ok {
			continue
		}

		raw, err := readZipFile(f)
		if err != nil {
			continue
		}

		text, _ := extract.HTMLText(raw)
		if text == "" {
			continue
		}
		pages = append(pages, chunker.Page{Number: i + 1, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %w", faults.ErrIrrecoverable, extract.ErrNoText)
	}

	return &extract.Result{
		Pages: pages,
		Info: extract.Info{
			Title:     strings.TrimSpace(pkg.Metadata.Title),
			Author:    strings.TrimSpace(pkg.Metadata.Creator),
			PageCount: len(pkg.Spine.ItemRefs),
		},
	}, nil
}

func rootfilePath(files map[string]*zip.File) (string, error) {
	f, ok := files["META-INF/container.xml"]
	if !ok {
		return "", fmt.Errorf("%w: %w: missing container.xml", faults.ErrIrrecoverable, extract.ErrCorrupt)
	}

	raw, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("%w: %w: reading container.xml: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	var c container
	if err := xml.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("%w: %w: parsing container.xml: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("%w: %w: no rootfile", faults.ErrIrrecoverable, extract.ErrCorrupt)
	}

	return c.Rootfiles[0].FullPath, nil
}

func readOPF(files map[string]*zip.File, opfPath string) (*opf, error) {
	f, ok := files[opfPath]
	if !ok {
		return nil, fmt.Errorf("%w: %w: missing package document %q", faults.ErrIrrecoverable, extract.ErrCorrupt, opfPath)
	}

	raw, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: reading package document: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	var pkg opf
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %w: parsing package document: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	return &pkg, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func resolvePath(base, href string) string {
	if base == "." || base == "" {
		return href
	}
	return path.Join(base, href)
}

var _ extract.Extractor = (*Extractor)(nil)
