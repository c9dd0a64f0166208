package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedElements are HTML elements whose text content is never prose.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
}

// blockElements end the current line when closed, so extracted text keeps
// paragraph structure instead of running together.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
}

// HTMLText extracts visible text from an HTML document, collapsing
// whitespace within lines and separating block elements by newlines. It also
// returns the <title> content when present.
func HTMLText(raw []byte) (text, title string) {
	tokenizer := html.NewTokenizer(strings.NewReader(string(raw)))

	var b strings.Builder
	var line []string
	var skipDepth int
	var inTitle bool

	flushLine := func() {
		if len(line) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(line, " "))
		line = line[:0]
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			flushLine()
			return b.String(), title

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = true
			}
			if skippedElements[tag] && tt == html.StartTagToken {
				skipDepth++
			}
			if blockElements[tag] {
				flushLine()
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
			}
			if skippedElements[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockElements[tag] {
				flushLine()
			}

		case html.TextToken:
			t := strings.TrimSpace(string(tokenizer.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				if title == "" {
					title = t
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			line = append(line, strings.Join(strings.Fields(t), " "))
		}
	}
}
