package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as string. Invalid UTF-8 sequences are replaced with
// the replacement character and a leading byte order mark is dropped.
func extractPlain(content []byte) (string, error) {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.TrimPrefix(s, "\uFEFF"), nil
}
