package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	content := []byte("Hello world\nLine 2\n\nSecond paragraph")
	got, err := e.ExtractBytes(content, ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2\n\nSecond paragraph" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainUTF8(t *testing.T) {
	e := NewExtractor()
	content := []byte("caf\xc3\xa9") // valid UTF-8
	got, err := e.ExtractBytes(content, ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "café" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	content := []byte("hello\x80world") // invalid UTF-8
	got, err := e.ExtractBytes(content, ".rst")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\uFFFDworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOM(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("\xef\xbb\xbfnotes"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "notes" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excelSheetsAreParagraphs(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "first sheet")
	if _, err := f.NewSheet("Sheet2"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	f.SetCellValue("Sheet2", "A1", "second sheet")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "first sheet\n\nsecond sheet" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, err := e.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_excelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.XLSX")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	e := NewExtractor()
	got, err := e.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Searchable text" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract("/nonexistent/path/file.txt")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("raw content"), ".xyz")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func TestSupported(t *testing.T) {
	cases := map[string]bool{
		".txt": true, ".MD": true, ".pdf": true, ".docx": true,
		".xlsx": true, ".pptx": true, ".odp": false, ".go": false, "": false,
	}
	for ext, want := range cases {
		if got := Supported(ext); got != want {
			t.Errorf("Supported(%q) = %v, want %v", ext, got, want)
		}
	}
}

func writeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const docxNS = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

func TestExtractBytes_docxParagraphs(t *testing.T) {
	doc := docxNS +
		`<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Sema</w:t></w:r><w:r><w:t>ntic</w:t></w:r></w:p>` +
		`<w:p w:rsidR="00AB"><w:r><w:t xml:space="preserve">Graph </w:t></w:r><w:r><w:t>&amp; notes</w:t></w:r></w:p>` +
		`<w:p/>` +
		`<w:p><w:r><w:t></w:t></w:r></w:p>` +
		`</w:body></w:document>`
	content := writeZip(t, map[string]string{"word/document.xml": doc})

	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Semantic\n\nGraph & notes" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	ct := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`
	content := writeZip(t, map[string]string{
		"[Content_Types].xml": ct,
		"word/document2.xml":  docxNS + `<w:p><w:r><w:t>custom path</w:t></w:r></w:p></w:body></w:document>`,
	})

	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "custom path" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxMissingDocument(t *testing.T) {
	content := writeZip(t, map[string]string{"other.xml": "<x/>"})
	if _, err := NewExtractor().ExtractBytes(content, ".docx"); err == nil {
		t.Error("expected error for docx without document.xml")
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:sld>`
	}
	content := writeZip(t, map[string]string{
		"ppt/slides/slide10.xml":            slide("Tenth slide"),
		"ppt/slides/slide2.xml":             slide("Second slide"),
		"ppt/slides/slide1.xml":             slide("First slide"),
		"ppt/slideLayouts/slideLayout1.xml": slide("layout text"),
	})

	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "First slide\n\nSecond slide\n\nTenth slide" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a pdf"), ".pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestJoinParagraphs(t *testing.T) {
	got := joinParagraphs([]string{"  a ", "", "\n", "b"})
	if got != "a\n\nb" {
		t.Errorf("got %q", got)
	}
}
