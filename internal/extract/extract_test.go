package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"docrag/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for n, body := range files {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"a.TXT":          KindText,
		"notes.md":       KindText,
		"x/y/report.pdf": KindPDF,
		"deck.pptx":      KindPPTX,
		"book.epub":      KindEPUB,
		"sheet.xls":      KindXLSX,
		"page.HTM":       KindHTML,
		"scan.jpeg":      KindImage,
		"archive.tar":    KindUnknown,
		"noext":          KindUnknown,
	}
	for path, want := range cases {
		if got := KindOf(path); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestExtract_Text(t *testing.T) {
	p := writeFile(t, "note.txt", "\ufeff  héllo wörld \xff\n")
	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "héllo wörld" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_Errors(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	if _, err := r.Extract(ctx, filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing file: expected ErrInvalidInput, got %v", err)
	}
	if _, err := r.Extract(ctx, writeFile(t, "a.tar", "data")); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("unknown extension: expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := r.Extract(ctx, writeFile(t, "scan.png", "\x89PNG")); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("image: expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := r.Extract(ctx, writeFile(t, "blank.txt", " \n\t ")); !errors.Is(err, domain.ErrExtractionEmpty) {
		t.Errorf("blank file: expected ErrExtractionEmpty, got %v", err)
	}
	if _, err := r.Extract(ctx, writeFile(t, "broken.docx", "not a zip")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("broken docx: expected ErrInvalidInput, got %v", err)
	}
}

func TestExtract_MalformedPDF(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	for name, body := range map[string]string{
		"garbage.pdf":   "definitely not a pdf",
		"truncated.pdf": "%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF",
		"empty.pdf":     "%PDF-1.7\n",
	} {
		if _, err := r.Extract(ctx, writeFile(t, name, body)); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestRecoverParse(t *testing.T) {
	text, err := recoverParse("bad.pdf", func() (string, error) {
		var xref []int
		return fmt.Sprint(xref[3]), nil
	})
	if text != "" || !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput from a panic, got %q, %v", text, err)
	}
	if !strings.Contains(err.Error(), "bad.pdf") {
		t.Fatalf("error should name the file: %v", err)
	}
	text, err = recoverParse("ok.pdf", func() (string, error) { return "fine", nil })
	if text != "fine" || err != nil {
		t.Fatalf("unexpected result %q, %v", text, err)
	}
}

func TestExtract_HTML(t *testing.T) {
	p := writeFile(t, "page.html", `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Heading</h1><script>var x = 1;</script>
<p>First   paragraph.</p><ul><li>item <b>one</b></li></ul></body></html>`)
	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Heading\nFirst paragraph.\nitem one" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_DOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>
<w:p><w:r><w:t>   </w:t></w:r></w:p>
<w:p><w:r><w:t>Second &amp; last</w:t></w:r></w:p>
</w:body></w:document>`
	p := writeZip(t, "doc.docx", map[string]string{"word/document.xml": doc})
	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello world\nSecond & last" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_PPTX(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
			text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	p := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml": slide("Ten"),
		"ppt/slides/slide2.xml":  slide("Two"),
		"ppt/slides/slide1.xml":  slide("One"),
	})
	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	want := "[Slide 1]\nOne\n\n[Slide 2]\nTwo\n\n[Slide 10]\nTen"
	if got != want {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_EPUB(t *testing.T) {
	p := writeZip(t, "book.epub", map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="OEBPS/content.opf"/></rootfiles></container>`,
		"OEBPS/content.opf": `<package><manifest>
<item id="c2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
<item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
</manifest><spine><itemref idref="c1"/><itemref idref="c2"/></spine></package>`,
		"OEBPS/text/ch1.xhtml": `<html><body><p>Chapter one.</p></body></html>`,
		"OEBPS/text/ch2.xhtml": `<html><body><p>Chapter two.</p></body></html>`,
	})
	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Chapter one.\nChapter two." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_XLSX(t *testing.T) {
	x := excelize.NewFile()
	_ = x.SetCellValue("Sheet1", "A1", "name")
	_ = x.SetCellValue("Sheet1", "B1", "qty")
	_ = x.SetCellValue("Sheet1", "A2", "apples")
	_ = x.SetCellValue("Sheet1", "B2", 3)
	if _, err := x.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "stock.xlsx")
	if err := x.SaveAs(p); err != nil {
		t.Fatal(err)
	}
	_ = x.Close()

	got, err := NewRegistry().Extract(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "[Sheet Sheet1]\nname qty\napples 3" {
		t.Fatalf("unexpected text %q", got)
	}
	if strings.Contains(got, "Empty") {
		t.Fatalf("empty sheet should be skipped")
	}
}

func TestRegistry_Supports(t *testing.T) {
	r := NewRegistry()
	for name, want := range map[string]bool{
		"notes.TXT":   true,
		"deck.pptx":   true,
		"scan.png":    true,
		"archive.tar": false,
		"README":      false,
	} {
		if got := r.Supports(name); got != want {
			t.Errorf("Supports(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(KindImage, func(context.Context, string) (string, error) { return "ocr text", nil })
	got, err := r.Extract(context.Background(), writeFile(t, "scan.png", "png"))
	if err != nil || got != "ocr text" {
		t.Fatalf("custom extractor not used: %q %v", got, err)
	}
}
