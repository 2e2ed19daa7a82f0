package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTML returns the visible text of an HTML file.
func HTML(_ context.Context, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return htmlText(f)
}

// htmlText keeps one line per block element; pages without block markup
// fall back to the whole body text.
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template").Remove()
	var parts []string
	doc.Find("h1,h2,h3,h4,h5,h6,p,li,td,th,pre,blockquote,figcaption,dt,dd").Each(func(_ int, s *goquery.Selection) {
		// nested blocks are visited on their own
		if s.Find("p,li,pre,blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		body := doc.Find("body")
		if body.Length() == 0 {
			body = doc.Selection
		}
		return collapse(body.Text()), nil
	}
	return collapse(strings.Join(parts, "\n")), nil
}

type opfPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

type ocfContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// EPUB returns the text of the book's XHTML documents in spine order.
func EPUB(ctx context.Context, p string) (string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	docs := epubDocuments(&zr.Reader)
	if len(docs) == 0 {
		return "", fmt.Errorf("no xhtml documents in book")
	}
	var texts []string
	for _, f := range docs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		t, err := htmlText(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%s: %w", f.Name, err)
		}
		if t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// epubDocuments follows container.xml to the package spine; books without a
// readable package fall back to every html file in name order.
func epubDocuments(zr *zip.Reader) []*zip.File {
	var container ocfContainer
	if err := decodeZipXML(zr, "META-INF/container.xml", &container); err == nil && len(container.Rootfiles) > 0 {
		opfPath := container.Rootfiles[0].FullPath
		var pkg opfPackage
		if err := decodeZipXML(zr, opfPath, &pkg); err == nil {
			hrefs := make(map[string]string, len(pkg.Manifest))
			for _, it := range pkg.Manifest {
				hrefs[it.ID] = it.Href
			}
			base := path.Dir(opfPath)
			var out []*zip.File
			for _, ref := range pkg.Spine {
				href, ok := hrefs[ref.IDRef]
				if !ok {
					continue
				}
				if f := findZip(zr, path.Clean(path.Join(base, href))); f != nil {
					out = append(out, f)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	var out []*zip.File
	for _, f := range zr.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	f := findZip(zr, name)
	if f == nil {
		return os.ErrNotExist
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}
