package ingestion_engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/models"
)

var errNoChunks = errors.New("strategy produced no chunks for a non-empty page")

// PageStrategy chunks the filtered text of one page.
type PageStrategy interface {
	Name() string
	ChunkPage(text string) ([]pageChunk, error)
}

// DefaultStrategies are tried in order; the first success wins.
func DefaultStrategies(tok tokenizer.Tokenizer, cfg ChunkerConfig) []PageStrategy {
	cfg = cfg.normalized()
	return []PageStrategy{
		&semanticStrategy{tok: tok, cfg: cfg},
		&paragraphStrategy{tok: tok, cfg: cfg},
		&windowStrategy{tok: tok, cfg: cfg},
	}
}

// semanticStrategy is paragraph aware with structured-content detection and
// sentence-level splitting of oversized paragraphs.
type semanticStrategy struct {
	tok tokenizer.Tokenizer
	cfg ChunkerConfig
}

func (s *semanticStrategy) Name() string { return "semantic" }

func (s *semanticStrategy) ChunkPage(text string) ([]pageChunk, error) {
	paras := ExtractParagraphs(text)
	units := make([]string, len(paras))
	for i, p := range paras {
		units[i] = p.Text
	}

	sentences := &packer{
		tok:      s.tok,
		cfg:      s.cfg,
		sep:      " ",
		kind:     models.ChunkOversizedSplit,
		oversize: forceSplit(s.tok, s.cfg, " "),
	}
	paragraphs := &packer{
		tok:  s.tok,
		cfg:  s.cfg,
		sep:  "\n\n",
		kind: models.ChunkNormal,
		oversize: func(unit string, carry []string) ([]pageChunk, []string, error) {
			return sentences.pack(SplitOversizedSentences(unit), carry)
		},
	}

	chunks, _, err := paragraphs.pack(units, nil)
	if err != nil {
		return nil, err
	}
	return chunks, validateBudget(s.tok, s.cfg, text, chunks)
}

// paragraphStrategy splits on blank lines only and force-splits any
// paragraph over the target.
type paragraphStrategy struct {
	tok tokenizer.Tokenizer
	cfg ChunkerConfig
}

func (s *paragraphStrategy) Name() string { return "paragraph" }

func (s *paragraphStrategy) ChunkPage(text string) ([]pageChunk, error) {
	p := &packer{
		tok:      s.tok,
		cfg:      s.cfg,
		sep:      "\n\n",
		kind:     models.ChunkNormal,
		oversize: forceSplit(s.tok, s.cfg, "\n\n"),
	}
	chunks, _, err := p.pack(SplitParagraphs(text), nil)
	if err != nil {
		return nil, err
	}
	return chunks, validateBudget(s.tok, s.cfg, text, chunks)
}

// windowStrategy cuts fixed token windows with no paragraph awareness.
type windowStrategy struct {
	tok tokenizer.Tokenizer
	cfg ChunkerConfig
}

func (s *windowStrategy) Name() string { return "window" }

func (s *windowStrategy) ChunkPage(text string) ([]pageChunk, error) {
	windows := tokenizer.Windows(s.tok, text, s.cfg.TargetTokens, s.cfg.step())
	out := make([]pageChunk, 0, len(windows))
	for _, w := range windows {
		out = append(out, pageChunk{Text: w, Kind: models.ChunkNormal})
	}
	return out, nil
}

// validateBudget rejects output that breaks the size bounds, or drops a
// page that carries real content.
func validateBudget(tok tokenizer.Tokenizer, cfg ChunkerConfig, text string, chunks []pageChunk) error {
	if len(chunks) == 0 && tok.Count(text) >= max(1, cfg.MinChunkTokens) {
		return errNoChunks
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("chunk %d is empty", i)
		}
		limit := cfg.limit()
		if c.Kind == models.ChunkForceSplit {
			limit = cfg.TargetTokens
		}
		if n := tok.Count(c.Text); n > limit {
			return fmt.Errorf("chunk %d has %d tokens, limit %d", i, n, limit)
		}
	}
	return nil
}

// runStrategy converts a panic inside a strategy into an error so one bad
// page never aborts the document.
func runStrategy(s PageStrategy, text string) (chunks []pageChunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s strategy panicked: %v", s.Name(), r)
		}
	}()
	return s.ChunkPage(text)
}
