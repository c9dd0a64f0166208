// Package pdf extracts page text and metadata from PDF documents using
// pdfcpu. Text is recovered from decoded page content streams, which covers
// simply-encoded documents; pages whose fonts use custom glyph maps may come
// back empty and are skipped rather than failing the document.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/faults"
)

// Extractor implements extract.Extractor for PDF bytes.
type Extractor struct {
	conf   *model.Configuration
	logger *zap.Logger
}

// NewExtractor creates a PDF extractor with relaxed validation, matching how
// real-world PDFs deviate from the letter of the format.
func NewExtractor(logger *zap.Logger) *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &Extractor{
		conf:   conf,
		logger: logger,
	}
}

// Extract validates the document, then recovers text page by page. Page
// numbers are 1-based.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*extract.Result, error) {
	rs := bytes.NewReader(data)

	if err := api.Validate(rs, e.conf); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking pdf data: %w", err)
	}
	pageCount, err := api.PageCount(rs, e.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: counting pages: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	info := e.metadata(rs, pageCount)

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking pdf data: %w", err)
	}
	pdfCtx, err := api.ReadValidateAndOptimize(rs, e.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", faults.ErrIrrecoverable, extract.ErrCorrupt, err)
	}

	pages := make([]chunker.Page, 0, pageCount)
	empty := 0
	for n := 1; n <= pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", faults.ErrTransient, err)
		}

		content, err := pdfcpu.ExtractPageContent(pdfCtx, n)
		if err != nil {
			e.logger.Warn("skipping undecodable pdf page",
				zap.Int("page", n),
				zap.Error(err),
			)
			empty++
			continue
		}
		if content == nil {
			empty++
			continue
		}

		raw, err := io.ReadAll(content)
		if err != nil {
			empty++
			continue
		}

		text := contentText(raw)
		if text == "" {
			empty++
			continue
		}
		pages = append(pages, chunker.Page{Number: n, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %w: all %d pages empty", faults.ErrIrrecoverable, extract.ErrNoText, pageCount)
	}
	if empty > 0 {
		e.logger.Info("extracted pdf with empty pages",
			zap.Int("pages", pageCount),
			zap.Int("empty", empty),
		)
	}

	return &extract.Result{
		Pages: pages,
		Info:  info,
	}, nil
}

// metadata reads the document information dictionary. Failures here never
// fail the extraction; metadata is advisory.
func (e *Extractor) metadata(rs io.ReadSeeker, pageCount int) extract.Info {
	info := extract.Info{PageCount: pageCount}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return info
	}
	pdfInfo, err := api.PDFInfo(rs, "", nil, false, e.conf)
	if err != nil || pdfInfo == nil {
		return info
	}

	info.Title = strings.TrimSpace(pdfInfo.Title)
	info.Author = strings.TrimSpace(pdfInfo.Author)

	return info
}

// contentText pulls text-show operands out of a decoded content stream. It
// collects literal strings and emits newlines on text-positioning operators.
func contentText(stream []byte) string {
	var b strings.Builder
	var i int

	appendText := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}

	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			s, next := literalString(stream, i)
			appendText(s)
			i = next

		case c == '<' && i+1 < len(stream) && stream[i+1] != '<':
			// Hex strings address glyphs through font-specific maps we do
			// not load; skip them.
			for i < len(stream) && stream[i] != '>' {
				i++
			}
			i++

		case c == 'T' && i+1 < len(stream):
			// Td, TD, and T* start a new text line.
			if op := stream[i+1]; op == 'd' || op == 'D' || op == '*' {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString("\n")
				}
			}
			i += 2

		default:
			i++
		}
	}

	return strings.TrimSpace(b.String())
}

// literalString decodes one PDF literal string starting at stream[start]=='('
// and returns the decoded text and the index just past the closing paren.
func literalString(stream []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start

	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return b.String(), i + 1
			}
			i++
			switch esc := stream[i]; esc {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
				// Ignore backspace and form feed.
			case '(', ')', '\\':
				b.WriteByte(esc)
			case '\n':
				// Line continuation.
			default:
				if esc >= '0' && esc <= '7' {
					val := int(esc - '0')
					for d := 0; d < 2 && i+1 < len(stream) && stream[i+1] >= '0' && stream[i+1] <= '7'; d++ {
						i++
						val = val*8 + int(stream[i]-'0')
					}
					if val >= 32 && val < 127 {
						b.WriteByte(byte(val))
					}
				}
			}
			i++

		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
			i++

		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
			i++

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), i
}

var _ extract.Extractor = (*Extractor)(nil)
