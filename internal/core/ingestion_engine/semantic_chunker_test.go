package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/models"
)

func clauses(from, to int) string {
	words := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		words = append(words, fmt.Sprintf("Clause%d.", i))
	}
	return strings.Join(words, " ")
}

func sentenceBlock(n int) string {
	s := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s = append(s, fmt.Sprintf("Employees must submit request number %d before leave begins.", i))
	}
	return strings.Join(s, " ")
}

func assertBudget(t *testing.T, tok tokenizer.Tokenizer, cfg ChunkerConfig, chunks []models.Chunk) {
	t.Helper()
	for _, c := range chunks {
		limit := cfg.TargetTokens + cfg.OverlapTokens
		if c.Kind == models.ChunkForceSplit {
			limit = cfg.TargetTokens
		}
		assert.LessOrEqual(t, tok.Count(c.Text), limit, "chunk %s (%s) over budget", c.ID, c.Kind)
		assert.Equal(t, tok.Count(c.Text), c.TokenCount)
	}
}

func TestChunkDocument_TwoThousandTokenPage(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 800, OverlapTokens: 100, MinChunkTokens: 50}
	chunker := NewSemanticChunker(tok, cfg, nil)

	pages := []models.Page{{Index: 1, Text: clauses(1, 2000)}}
	require.Equal(t, 2000, tok.Count(pages[0].Text))

	chunks := chunker.ChunkDocument(context.Background(), "doc-001", pages)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, fmt.Sprintf("doc-001:1:%d", i), c.ID)
		assert.Equal(t, models.ChunkNormal, c.Kind)
		assert.Equal(t, 1, c.PageStart)
		assert.Equal(t, 1, c.PageEnd)
	}
	assertBudget(t, tok, cfg, chunks)

	// the middle chunk opens with the tail of the first one
	opening := strings.TrimPrefix(strings.SplitN(chunks[1].Text, "\n\n", 2)[0], truncationMarker)
	assert.True(t, strings.HasSuffix(chunks[0].Text, opening) || strings.Contains(chunks[0].Text, opening))
	assert.NotContains(t, chunks[0].Text, "Clause2000.")
	assert.True(t, strings.HasSuffix(chunks[2].Text, "Clause2000."))
}

func TestChunkDocument_BudgetInvariant(t *testing.T) {
	tok := tokenizer.Words{}
	cfgs := []ChunkerConfig{
		{TargetTokens: 120, OverlapTokens: 30, MinChunkTokens: 20, StitchPages: true},
		{TargetTokens: 60, OverlapTokens: 0, MinChunkTokens: 50, StitchPages: true},
		{TargetTokens: 200, OverlapTokens: 80, MinChunkTokens: 0},
	}

	unbroken := strings.TrimSpace(strings.Repeat("accrual ", 450))
	doc := []models.Page{
		{Index: 1, Text: "ANNUAL LEAVE POLICY\n\n" + sentenceBlock(20) + "\n\n• Staff accrue two days per month.\n• Carry over is capped at five days.\n\n" + sentenceBlock(6)},
		{Index: 2, Text: "1. " + sentenceBlock(40)},
		{Index: 3, Text: "Page 3 of 4\n" + unbroken},
		{Index: 4, Text: ""},
		{Index: 5, Text: "Section 4.2 applies from 01/02/2024.\n\n" + sentenceBlock(3)},
	}

	for _, cfg := range cfgs {
		t.Run(fmt.Sprintf("target=%d overlap=%d", cfg.TargetTokens, cfg.OverlapTokens), func(t *testing.T) {
			chunks := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc", doc)
			require.NotEmpty(t, chunks)
			assertBudget(t, tok, cfg, chunks)

			ids := map[string]bool{}
			for i, c := range chunks {
				assert.Equal(t, i, c.ChunkIndex)
				assert.False(t, ids[c.ID], "duplicate id %s", c.ID)
				ids[c.ID] = true
				assert.NotEqual(t, 4, c.PageStart, "blank page must not produce chunks")
			}
		})
	}
}

func TestChunkDocument_OversizedParagraphs(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 100, OverlapTokens: 20, MinChunkTokens: 10}
	chunker := NewSemanticChunker(tok, cfg, nil)

	t.Run("Should split a structured paragraph on sentences", func(t *testing.T) {
		pages := []models.Page{{Index: 1, Text: "1. " + sentenceBlock(30)}}
		chunks := chunker.ChunkDocument(context.Background(), "doc", pages)

		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.Equal(t, models.ChunkOversizedSplit, c.Kind)
		}
		assertBudget(t, tok, cfg, chunks)
	})

	t.Run("Should force split text without sentence boundaries", func(t *testing.T) {
		pages := []models.Page{{Index: 1, Text: strings.TrimSpace(strings.Repeat("entitlement ", 250))}}
		chunks := chunker.ChunkDocument(context.Background(), "doc", pages)

		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.Equal(t, models.ChunkForceSplit, c.Kind)
			assert.LessOrEqual(t, c.TokenCount, cfg.TargetTokens)
		}
	})
}

func TestChunkDocument_ForceSplitOverlapsPreviousChunk(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 100, OverlapTokens: 20, MinChunkTokens: 10}
	text := sentenceBlock(9) + "\n\n" + strings.TrimSpace(strings.Repeat("entitlement ", 250))

	assertSeeded := func(t *testing.T, chunks []pageChunk) {
		t.Helper()
		require.Greater(t, len(chunks), 2)
		assert.NotEqual(t, models.ChunkForceSplit, chunks[0].Kind)
		assert.Equal(t, models.ChunkForceSplit, chunks[1].Kind)

		opening := strings.TrimPrefix(chunks[1].Text, truncationMarker)
		cut := strings.Index(opening, "entitlement")
		require.Positive(t, cut, "force split window must open with the previous chunk's tail")
		assert.Contains(t, chunks[0].Text, strings.TrimSpace(opening[:cut]))

		for i, c := range chunks {
			if c.Kind == models.ChunkForceSplit {
				assert.LessOrEqual(t, tok.Count(c.Text), cfg.TargetTokens, "chunk %d", i)
			}
		}
		assert.True(t, strings.HasPrefix(chunks[2].Text, "entitlement"))
	}

	t.Run("Should seed the semantic force split", func(t *testing.T) {
		chunks, err := (&semanticStrategy{tok: tok, cfg: cfg}).ChunkPage(text)
		require.NoError(t, err)
		assertSeeded(t, chunks)
	})

	t.Run("Should seed the paragraph force split", func(t *testing.T) {
		chunks, err := (&paragraphStrategy{tok: tok, cfg: cfg}).ChunkPage(text)
		require.NoError(t, err)
		assertSeeded(t, chunks)
	})

	t.Run("Should keep every word of the oversized paragraph", func(t *testing.T) {
		chunks := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc",
			[]models.Page{{Index: 1, Text: text}})
		require.Greater(t, len(chunks), 2)
		last := chunks[len(chunks)-1]
		assert.Equal(t, models.ChunkForceSplit, last.Kind)
		assertBudget(t, tok, cfg, chunks)
	})
}

func TestChunkDocument_AdjacentChunksOverlap(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 150, OverlapTokens: 40, MinChunkTokens: 20}
	chunks := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc",
		[]models.Page{{Index: 1, Text: sentenceBlock(60)}})

	require.Greater(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if prev.TokenCount <= cfg.MinChunkTokens || cur.TokenCount <= cfg.MinChunkTokens {
			continue
		}
		opening := strings.TrimPrefix(strings.SplitN(cur.Text, "\n\n", 2)[0], truncationMarker)
		assert.Contains(t, prev.Text, opening, "chunk %d does not overlap chunk %d", i, i-1)
	}
}

func TestChunkDocument_StableIDs(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 80, OverlapTokens: 20, MinChunkTokens: 10, StitchPages: true}
	pages := []models.Page{
		{Index: 1, Text: sentenceBlock(15)},
		{Index: 2, Text: sentenceBlock(15)},
	}

	first := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc", pages)
	second := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc", pages)

	assert.Equal(t, first, second)
}

func TestChunkDocument_Stitching(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 800, OverlapTokens: 100, MinChunkTokens: 10, StitchPages: true}
	pages := []models.Page{
		{Index: 1, Text: sentenceBlock(17)},
		{Index: 2, Text: sentenceBlock(17)},
	}

	chunks := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc", pages)

	require.Len(t, chunks, 3)
	st := chunks[2]
	assert.Equal(t, models.ChunkStitched, st.Kind)
	assert.Equal(t, 1, st.PageStart)
	assert.Equal(t, 2, st.PageEnd)
	assert.Equal(t, "doc:1:2", st.ID)
	assert.Contains(t, st.Text, "--- PAGE BOUNDARY ---")

	t.Run("Should skip stitches below the minimum size", func(t *testing.T) {
		small := []models.Page{
			{Index: 1, Text: sentenceBlock(2)},
			{Index: 2, Text: sentenceBlock(2)},
		}
		chunks := NewSemanticChunker(tok, cfg, nil).ChunkDocument(context.Background(), "doc", small)
		for _, c := range chunks {
			assert.NotEqual(t, models.ChunkStitched, c.Kind)
		}
	})
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panicking" }
func (panickingStrategy) ChunkPage(string) ([]pageChunk, error) {
	panic("malformed page")
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }
func (failingStrategy) ChunkPage(string) ([]pageChunk, error) {
	return nil, errors.New("boom")
}

func TestChunkDocument_Fallback(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 50, OverlapTokens: 10, MinChunkTokens: 5}
	pages := []models.Page{{Index: 1, Text: sentenceBlock(10)}}

	t.Run("Should fall through to the next strategy", func(t *testing.T) {
		c := NewSemanticChunker(tok, cfg, nil).
			WithStrategies(panickingStrategy{}, failingStrategy{}, &windowStrategy{tok: tok, cfg: cfg.normalized()})

		chunks := c.ChunkDocument(context.Background(), "doc", pages)
		require.NotEmpty(t, chunks)
		assertBudget(t, tok, cfg, chunks)
	})

	t.Run("Should skip a page when every strategy fails", func(t *testing.T) {
		c := NewSemanticChunker(tok, cfg, nil).WithStrategies(failingStrategy{})
		assert.Empty(t, c.ChunkDocument(context.Background(), "doc", pages))
	})
}

func TestOverlapTail(t *testing.T) {
	tok := tokenizer.Words{}

	t.Run("Should keep whole units that fit", func(t *testing.T) {
		got := overlapTail(tok, []string{"one two three four five six", "seven eight"}, 10)
		assert.Equal(t, []string{"one two three four five six", "seven eight"}, got)
	})

	t.Run("Should stop once the fill ratio is met", func(t *testing.T) {
		got := overlapTail(tok, []string{"a b c", "d e", "f g h i"}, 5)
		assert.Equal(t, []string{"f g h i"}, got)
	})

	t.Run("Should add a marked partial tail below the fill ratio", func(t *testing.T) {
		got := overlapTail(tok, []string{"a b c d e f g h", "x y"}, 6)
		assert.Equal(t, []string{"...e f g h", "x y"}, got)
	})
}

func TestValidateBudget(t *testing.T) {
	tok := tokenizer.Words{}
	cfg := ChunkerConfig{TargetTokens: 3, OverlapTokens: 1, MinChunkTokens: 1}

	assert.NoError(t, validateBudget(tok, cfg, "a b c d", []pageChunk{{Text: "a b c d", Kind: models.ChunkNormal}}))
	assert.Error(t, validateBudget(tok, cfg, "a b c d", []pageChunk{{Text: "a b c d", Kind: models.ChunkForceSplit}}))
	assert.ErrorIs(t, validateBudget(tok, cfg, "a b c d", nil), errNoChunks)
}
