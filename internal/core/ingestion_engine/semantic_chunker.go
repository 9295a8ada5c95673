package ingestion_engine

import (
	"context"
	"strings"

	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

type filteredPage struct {
	Index int
	Text  string
}

// SemanticChunker turns a document's pages into chunk records with stable,
// monotonic chunk indices.
type SemanticChunker struct {
	tok        tokenizer.Tokenizer
	cfg        ChunkerConfig
	filter     *ContentFilter
	strategies []PageStrategy
}

func NewSemanticChunker(tok tokenizer.Tokenizer, cfg ChunkerConfig, filter *ContentFilter) *SemanticChunker {
	cfg = cfg.normalized()
	if filter == nil {
		filter = NewContentFilter()
	}
	return &SemanticChunker{
		tok:        tok,
		cfg:        cfg,
		filter:     filter,
		strategies: DefaultStrategies(tok, cfg),
	}
}

// WithStrategies replaces the fallback chain.
func (c *SemanticChunker) WithStrategies(strategies ...PageStrategy) *SemanticChunker {
	c.strategies = strategies
	return c
}

func (c *SemanticChunker) Config() ChunkerConfig { return c.cfg }

// ChunkDocument filters and chunks every page, then appends cross-page
// stitches. A page that no strategy can handle contributes no chunks.
func (c *SemanticChunker) ChunkDocument(ctx context.Context, docID string, pages []models.Page) []models.Chunk {
	log := logger.FromContext(ctx).With("doc_id", docID)

	filtered := make([]filteredPage, 0, len(pages))
	for _, p := range pages {
		filtered = append(filtered, filteredPage{Index: p.Index, Text: c.filter.Filter(p.Text)})
	}

	var (
		chunks []models.Chunk
		idx    int
	)
	for _, page := range filtered {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		pieces, strategy := c.chunkPage(log, page)
		for _, pc := range pieces {
			chunks = append(chunks, c.record(docID, page.Index, page.Index, idx, pc.Text, pc.Kind))
			idx++
		}
		log.Debug("page chunked", "page", page.Index, "strategy", strategy, "chunks", len(pieces))
	}

	if c.cfg.StitchPages && len(filtered) > 1 {
		stitches := stitchPages(c.tok, c.cfg, filtered)
		for _, s := range stitches {
			chunks = append(chunks, c.record(docID, s.PageStart, s.PageEnd, idx, s.Text, models.ChunkStitched))
			idx++
		}
		log.Debug("pages stitched", "stitches", len(stitches))
	}
	return chunks
}

func (c *SemanticChunker) chunkPage(log logger.Logger, page filteredPage) ([]pageChunk, string) {
	for _, s := range c.strategies {
		pieces, err := runStrategy(s, page.Text)
		if err == nil {
			return pieces, s.Name()
		}
		log.Warn("chunking strategy failed, falling back", "page", page.Index, "strategy", s.Name(), "error", err)
	}
	log.Error("all chunking strategies failed, page skipped", "page", page.Index)
	return nil, "none"
}

func (c *SemanticChunker) record(docID string, start, end, idx int, text string, kind models.ChunkKind) models.Chunk {
	return models.Chunk{
		ID:         models.ChunkID(docID, start, idx),
		DocID:      docID,
		PageStart:  start,
		PageEnd:    end,
		ChunkIndex: idx,
		Text:       text,
		Kind:       kind,
		TokenCount: c.tok.Count(text),
	}
}
