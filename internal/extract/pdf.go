package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"docrag/internal/domain"
)

// PDF returns the plain text of every page, each prefixed with [Page N].
// The parser panics on some malformed files; those surface as ErrInvalidInput.
func PDF(ctx context.Context, path string) (string, error) {
	return recoverParse(filepath.Base(path), func() (string, error) {
		return readPDF(ctx, path)
	})
}

func readPDF(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[Page %d]\n%s\n", i, text)
	}
	return b.String(), nil
}

// recoverParse runs parse and turns a panic into an invalid input error.
func recoverParse(name string, parse func() (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: malformed file %s: %v", domain.ErrInvalidInput, name, r)
		}
	}()
	return parse()
}
