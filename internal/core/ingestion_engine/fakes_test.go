package ingestion_engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

type fakeObjects struct {
	mu    sync.Mutex
	files map[string][]byte
	gets  atomic.Int32
}

func newFakeObjects() *fakeObjects { return &fakeObjects{files: map[string][]byte{}} }

func (f *fakeObjects) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[bucket+"/"+key] = data
}

func (f *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	f.put(bucket, key, data)
	return "s3://" + bucket + "/" + key, nil
}

func (f *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, core.ErrNotFound)
	}
	return data, nil
}

type fakeIndex struct {
	mu        sync.Mutex
	records   map[string]models.IndexedChunk
	upsertErr error
	deletes   int
}

func newFakeIndex() *fakeIndex { return &fakeIndex{records: map[string]models.IndexedChunk{}} }

func (f *fakeIndex) Upsert(_ context.Context, records []models.IndexedChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeIndex) DeleteWhere(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for id, r := range f.records {
		if r.DocID == docID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeIndex) Query(context.Context, []float32, int, string) ([]models.QueryResult, error) {
	return nil, nil
}

func (f *fakeIndex) snapshot() map[string]models.IndexedChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.IndexedChunk, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}

type fakeState struct {
	mu     sync.Mutex
	states map[string]models.IngestionState
}

func newFakeState() *fakeState { return &fakeState{states: map[string]models.IngestionState{}} }

func (f *fakeState) GetState(_ context.Context, docID string) (*models.IngestionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[docID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeState) SaveState(_ context.Context, st *models.IngestionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.DocID] = *st
	return nil
}

// fakeExtractor treats the source bytes as pages separated by form feeds.
type fakeExtractor struct {
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeExtractor) ExtractPages(_ context.Context, data []byte) ([]models.Page, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var pages []models.Page
	start, idx := 0, 1
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\f' {
			pages = append(pages, models.Page{Index: idx, Text: string(data[start:i])})
			idx++
			start = i + 1
		}
	}
	return pages, nil
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

var (
	_ core.ObjectClient      = (*fakeObjects)(nil)
	_ core.VectorIndex       = (*fakeIndex)(nil)
	_ core.StateStore        = (*fakeState)(nil)
	_ core.PageExtractor     = (*fakeExtractor)(nil)
	_ core.EmbeddingProvider = (*fakeEmbedder)(nil)
)
