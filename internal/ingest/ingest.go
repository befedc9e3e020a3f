// Package ingest converts uploaded note files into documents.
package ingest

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/clinlabs/notex/internal/extract"
)

// FromUpload converts an uploaded note file into a document. HTML exports
// are reduced to their readable text; anything else is treated as plain
// text. The filename only decides the format, it is not kept.
func FromUpload(filename, docID string, r io.Reader) (extract.Document, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return fromHTML(docID, r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return extract.Document{}, fmt.Errorf("reading uploaded document: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return extract.Document{}, fmt.Errorf("uploaded document is empty")
	}
	return extract.Document{DocID: docID, RawText: text}, nil
}

// fromHTML strips markup from an HTML note export.
func fromHTML(docID string, r io.Reader) (extract.Document, error) {
	// Readability wants a page URL for resolving relative links; uploads
	// have none, so a placeholder is enough.
	pageURL, _ := url.Parse("https://localhost/upload")

	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return extract.Document{}, fmt.Errorf("extracting text from HTML: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return extract.Document{}, fmt.Errorf("no extractable text in HTML document")
	}
	return extract.Document{DocID: docID, RawText: text}, nil
}
