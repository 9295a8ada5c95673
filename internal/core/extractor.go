package core

import (
	"context"

	"github.com/markdave123-py/policyqa/internal/models"
)

// PageExtractor converts a document's binary content into ordered page texts.
// A page whose text cannot be extracted is returned with empty Text.
type PageExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]models.Page, error)
}

// HasText reports whether any page carries non-blank text.
func HasText(pages []models.Page) bool {
	for _, p := range pages {
		for _, r := range p.Text {
			if r != ' ' && r != '\n' && r != '\t' && r != '\r' && r != '\f' {
				return true
			}
		}
	}
	return false
}
