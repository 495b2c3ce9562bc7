package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/engine/knowledge/chunk"
	"github.com/compozy/policychat/pkg/logger"
)

const pdfMIME = "application/pdf"

// Document is one loaded source file split into pages.
type Document struct {
	Path  string
	Name  string
	Pages []chunk.Page
}

// Loader discovers and extracts source documents under a directory.
type Loader interface {
	Load(ctx context.Context, dir, pattern string) ([]Document, error)
}

// PDFLoader extracts page text from PDF files matching a glob pattern.
type PDFLoader struct{}

// NewPDFLoader creates a PDF loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load returns matching PDFs sorted by path. Pages carry the file basename
// and a 1-based page number. Files that are not PDFs are skipped.
func (l *PDFLoader) Load(ctx context.Context, dir, pattern string) ([]Document, error) {
	log := logger.FromContext(ctx)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: source directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge: source path %q is not a directory", dir)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("knowledge: glob %q failed: %w", pattern, err)
	}
	sort.Strings(matches)
	docs := make([]Document, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		detected, err := mimetype.DetectFile(abs)
		if err != nil {
			return nil, fmt.Errorf("knowledge: detect type of %q: %w", abs, err)
		}
		if !detected.Is(pdfMIME) {
			log.Warn("Skipping non-PDF file", "path", abs, "mime", detected.String())
			continue
		}
		name := path.Base(rel)
		pages, err := extractPages(abs, name)
		if err != nil {
			return nil, err
		}
		log.Info("Loaded document", "file", name, "pages", len(pages))
		docs = append(docs, Document{Path: abs, Name: name, Pages: pages})
	}
	return docs, nil
}

// extractPages reads the plain text of every page. The PDF reader panics on some
// malformed inputs, so panics are turned into errors for the offending file.
func extractPages(abs, name string) (pages []chunk.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("knowledge: extract pdf %q: malformed document: %v", abs, r)
		}
	}()
	file, reader, err := pdf.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open pdf %q: %w", abs, err)
	}
	defer file.Close()
	total := reader.NumPage()
	pages = make([]chunk.Page, 0, total)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, fontName := range page.Fonts() {
			if _, ok := fonts[fontName]; !ok {
				font := page.Font(fontName)
				fonts[fontName] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("knowledge: extract page %d of %q: %w", i, abs, err)
		}
		pages = append(pages, chunk.Page{
			SourceFile: name,
			PageNumber: knowledge.Page(i),
			Text:       text,
		})
	}
	return pages, nil
}
