// Package web extracts text from captured web page HTML. A web page is a
// single unpaginated text stream.
package web

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/knowledgeco/companion/pkg/chunker"
	"github.com/knowledgeco/companion/pkg/extract"
	"github.com/knowledgeco/companion/pkg/faults"
)

// Extractor implements extract.Extractor for HTML captures. Plain text input
// passes through unchanged.
type Extractor struct{}

// NewExtractor creates a web page extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract strips markup and returns the page as one unpaginated text page.
func (e *Extractor) Extract(_ context.Context, data []byte) (*extract.Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %w: not valid UTF-8", faults.ErrIrrecoverable, extract.ErrCorrupt)
	}

	var text, title string
	if looksLikeHTML(data) {
		text, title = extract.HTMLText(data)
	} else {
		text = strings.TrimSpace(string(data))
	}

	if text == "" {
		return nil, fmt.Errorf("%w: %w", faults.ErrIrrecoverable, extract.ErrNoText)
	}

	return &extract.Result{
		Pages: []chunker.Page{{Number: 0, Text: text}},
		Info:  extract.Info{Title: title},
	}, nil
}

func looksLikeHTML(data []byte) bool {
	head := strings.ToLower(string(data[:min(len(data), 512)]))
	return strings.Contains(head, "<html") ||
		strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<body") ||
		strings.Contains(head, "<div") ||
		strings.Contains(head, "<p>")
}

var _ extract.Extractor = (*Extractor)(nil)
