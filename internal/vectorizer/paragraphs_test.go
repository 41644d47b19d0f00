package vectorizer

import (
	"reflect"
	"testing"
)

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \n\t\n  ", nil},
		{"single", "one line", []string{"one line"}},
		{"two paragraphs", "first\n\nsecond", []string{"first", "second"}},
		{"multi-line paragraph", "a\nb\n\nc", []string{"a\nb", "c"}},
		{"blank line with spaces", "a\n   \nb", []string{"a", "b"}},
		{"crlf", "a\r\n\r\nb\r\n", []string{"a", "b"}},
		{"trims", "  padded  \n\n\n\n  next ", []string{"padded", "next"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitParagraphs(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitParagraphs(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
