package vectorizer

import (
	"strings"
)

// SplitParagraphs splits content on blank lines (lines that are empty or whitespace only),
// trims each paragraph, and drops empty ones. Windows line endings are normalized first.
func SplitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var paragraphs []string
	var current []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(current, "\n")); p != "" {
			paragraphs = append(paragraphs, p)
		}
		current = current[:0]
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paragraphs
}
