// Package extract turns uploaded files into plain text. Formats are a closed
// set of kinds, each mapped to one extraction function.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docrag/internal/domain"
)

// Kind identifies a supported file family.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
	KindDOCX
	KindPPTX
	KindEPUB
	KindXLSX
	KindHTML
	KindImage
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindText:    "text",
	KindPDF:     "pdf",
	KindDOCX:    "docx",
	KindPPTX:    "pptx",
	KindEPUB:    "epub",
	KindXLSX:    "xlsx",
	KindHTML:    "html",
	KindImage:   "image",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var extKinds = map[string]Kind{
	".txt":  KindText,
	".md":   KindText,
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".pptx": KindPPTX,
	".epub": KindEPUB,
	".xlsx": KindXLSX,
	".xls":  KindXLSX,
	".html": KindHTML,
	".htm":  KindHTML,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".webp": KindImage,
	".bmp":  KindImage,
}

// KindOf maps a path to its kind by lowercased extension.
func KindOf(path string) Kind {
	return extKinds[strings.ToLower(filepath.Ext(path))]
}

// Func extracts the text of one file.
type Func func(ctx context.Context, path string) (string, error)

// ErrNoOCR is returned for images; there is no OCR engine available.
var ErrNoOCR = fmt.Errorf("%w: image text recognition is not available", domain.ErrUnsupportedFormat)

// Registry dispatches on Kind. It implements domain.Extractor.
type Registry struct {
	funcs map[Kind]Func
}

// NewRegistry returns a registry with every built-in extractor.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[Kind]Func)}
	r.Register(KindText, Text)
	r.Register(KindPDF, PDF)
	r.Register(KindDOCX, DOCX)
	r.Register(KindPPTX, PPTX)
	r.Register(KindEPUB, EPUB)
	r.Register(KindXLSX, XLSX)
	r.Register(KindHTML, HTML)
	r.Register(KindImage, func(context.Context, string) (string, error) { return "", ErrNoOCR })
	return r
}

// Register sets or replaces the function for k.
func (r *Registry) Register(k Kind, f Func) { r.funcs[k] = f }

// Supports reports whether path has a registered kind.
func (r *Registry) Supports(path string) bool {
	_, ok := r.funcs[KindOf(path)]
	return ok
}

// Extract returns the trimmed text of path.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: invalid file path %q", domain.ErrInvalidInput, path)
	}
	kind := KindOf(path)
	f, ok := r.funcs[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}
	text, err := f(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: read %s as %s: %v", domain.ErrInvalidInput, filepath.Base(path), kind, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrExtractionEmpty, filepath.Base(path))
	}
	return text, nil
}

// Text reads a UTF-8 file, dropping invalid byte sequences.
func Text(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(strings.TrimPrefix(string(b), "\ufeff"), ""), nil
}

// collapse trims every line, squeezes inner whitespace and drops blank lines.
func collapse(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	out := lines[:0]
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}
