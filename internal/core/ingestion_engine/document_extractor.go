package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

var (
	_ core.PageExtractor = (*PDFPageExtractor)(nil)
	_ core.PageExtractor = (*DocconvExtractor)(nil)
	_ core.PageExtractor = (*FallbackExtractor)(nil)
)

// PDFPageExtractor reads page texts with the pure-Go PDF reader. A page that
// fails to decode yields empty text instead of failing the document.
type PDFPageExtractor struct{}

func NewPDFPageExtractor() *PDFPageExtractor { return &PDFPageExtractor{} }

func (e *PDFPageExtractor) ExtractPages(ctx context.Context, data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	log := logger.FromContext(ctx)
	n := reader.NumPage()
	pages := make([]models.Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(reader, i)
		if err != nil {
			log.Warn("failed to extract text from page", "page", i, "error", err)
		}
		pages = append(pages, models.Page{Index: i, Text: text})
	}
	return pages, nil
}

func pageText(reader *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("decode page %d: %v", i, r)
		}
	}()
	page := reader.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

// DocconvExtractor converts with docconv. PDF output from pdftotext
// separates pages with form feeds, which become page boundaries.
type DocconvExtractor struct {
	contentType    string
	useReadability bool
}

func NewDocconvExtractor(contentType string, useReadability bool) *DocconvExtractor {
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &DocconvExtractor{contentType: contentType, useReadability: useReadability}
}

func (e *DocconvExtractor) ExtractPages(ctx context.Context, data []byte) ([]models.Page, error) {
	res, err := docconv.Convert(bytes.NewReader(data), e.contentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("docconv: extraction failed for content type %q: %w", e.contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := strings.Split(res.Body, "\f")
	// pdftotext ends the last page with a form feed
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]models.Page, len(parts))
	for i, p := range parts {
		pages[i] = models.Page{Index: i + 1, Text: p}
	}
	return pages, nil
}

// FallbackExtractor tries extractors in order, moving on when one fails or
// returns no text at all.
type FallbackExtractor struct {
	extractors []core.PageExtractor
}

func NewFallbackExtractor(extractors ...core.PageExtractor) *FallbackExtractor {
	return &FallbackExtractor{extractors: extractors}
}

func (e *FallbackExtractor) ExtractPages(ctx context.Context, data []byte) ([]models.Page, error) {
	var (
		errs []error
		best []models.Page
	)
	for _, x := range e.extractors {
		pages, err := x.ExtractPages(ctx, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if core.HasText(pages) {
			return pages, nil
		}
		if best == nil {
			best = pages
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, errors.Join(errs...)
}
