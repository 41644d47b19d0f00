// Package extract turns document files into note content. Paragraph boundaries in the
// source (pages, document paragraphs, slides, sheets) become blank lines in the output.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParagraphSeparator separates paragraphs in extracted content.
const ParagraphSeparator = "\n\n"

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether ext (with leading dot, any case) has a dedicated extractor.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	default:
		return extractPlain(content)
	}
}

// joinParagraphs trims each part, drops empty ones, and joins the rest with ParagraphSeparator.
func joinParagraphs(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ParagraphSeparator)
}
