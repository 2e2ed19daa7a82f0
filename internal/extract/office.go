package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DOCX returns the non-blank paragraphs of word/document.xml, one per line.
func DOCX(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	f := findZip(&zr.Reader, "word/document.xml")
	if f == nil {
		return "", fmt.Errorf("word/document.xml missing")
	}
	paras, err := xmlParagraphs(f)
	if err != nil {
		return "", err
	}
	return strings.Join(paras, "\n"), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTX returns the text of every slide, each prefixed with [Slide N].
func PPTX(ctx context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n, f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	var b strings.Builder
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		paras, err := xmlParagraphs(s.f)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.n, err)
		}
		if len(paras) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[Slide %d]\n%s\n", s.n, strings.Join(paras, "\n"))
	}
	return b.String(), nil
}

func findZip(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// xmlParagraphs collects <t> runs into paragraphs closed by </p>. Both
// WordprocessingML (w:) and DrawingML (a:) use these local names.
func xmlParagraphs(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		paras = append(paras, s)
	}
	return paras, nil
}
