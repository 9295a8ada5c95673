package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

// MemoryIndex is an in-process vector index used in local mode and tests.
// Query is a linear cosine scan over the document's chunks.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]models.IndexedChunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]map[string]models.IndexedChunk)}
}

func (m *MemoryIndex) Upsert(_ context.Context, records []models.IndexedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		chunks, ok := m.docs[r.DocID]
		if !ok {
			chunks = make(map[string]models.IndexedChunk)
			m.docs[r.DocID] = chunks
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		chunks[r.ID] = r
	}
	return nil
}

func (m *MemoryIndex) DeleteWhere(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docID)
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int, docID string) ([]models.QueryResult, error) {
	if topK <= 0 {
		return []models.QueryResult{}, nil
	}

	m.mu.RLock()
	type scored struct {
		res   models.QueryResult
		index int
	}
	hits := make([]scored, 0, len(m.docs[docID]))
	for _, c := range m.docs[docID] {
		if len(c.Embedding) != len(vector) {
			m.mu.RUnlock()
			return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", core.ErrInvalidInput, len(vector), len(c.Embedding))
		}
		hits = append(hits, scored{
			res: models.QueryResult{
				ChunkID:   c.ID,
				Score:     cosine(vector, c.Embedding),
				PageStart: c.PageStart,
				PageEnd:   c.PageEnd,
				Text:      c.Text,
			},
			index: c.ChunkIndex,
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].res.Score != hits[j].res.Score {
			return hits[i].res.Score > hits[j].res.Score
		}
		return hits[i].index < hits[j].index
	})

	n := min(topK, len(hits))
	out := make([]models.QueryResult, n)
	for i := range n {
		out[i] = hits[i].res
	}
	return out, nil
}

// Count returns the number of chunks stored for docID.
func (m *MemoryIndex) Count(docID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[docID])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ core.VectorIndex = (*MemoryIndex)(nil)
