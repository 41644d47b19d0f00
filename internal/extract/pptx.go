package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlideRe matches slide XML files inside a .pptx zip and captures the slide number.
var pptxSlideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t>.
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

// extractPPTX returns one paragraph per slide, in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := readZipFile(zr, f.Name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		var parts []string
		for _, p := range atTag.FindAllStringSubmatch(string(data), -1) {
			if t := strings.TrimSpace(html.UnescapeString(p[1])); t != "" {
				parts = append(parts, t)
			}
		}
		slides = append(slides, slide{n: n, text: strings.Join(parts, " ")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	texts := make([]string, len(slides))
	for i, s := range slides {
		texts[i] = s.text
	}
	return joinParagraphs(texts), nil
}
