package ingestion_engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/models"
)

const testBucket = "policies"

type coordinatorFixture struct {
	obj       *fakeObjects
	index     *fakeIndex
	state     *fakeState
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	coord     *Coordinator
}

func newFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		obj:       newFakeObjects(),
		index:     newFakeIndex(),
		state:     newFakeState(),
		extractor: &fakeExtractor{},
		embedder:  &fakeEmbedder{},
	}
	chunker := NewSemanticChunker(tokenizer.Words{}, ChunkerConfig{TargetTokens: 80, OverlapTokens: 20, MinChunkTokens: 10, StitchPages: true}, nil)
	f.coord = NewCoordinator(f.obj, f.index, f.state, f.extractor, chunker, f.embedder,
		&IngestConfig{DocID: "doc-001", Bucket: testBucket, Timeout: time.Minute})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.coord.now = func() time.Time { return fixed }
	return f
}

func (f *coordinatorFixture) publish(key string, pages ...string) {
	body := ""
	for i, p := range pages {
		if i > 0 {
			body += "\f"
		}
		body += p
	}
	f.obj.put(testBucket, key, []byte(body))
	f.obj.put(testBucket, "doc-001/manifest.json", []byte(`{"latest_pdf":"`+key+`"}`))
}

func TestCoordinator_IngestThenNoop(t *testing.T) {
	f := newFixture(t)
	f.publish("doc-001/v1.pdf", sentenceBlock(20), sentenceBlock(12))
	ctx := context.Background()

	first := f.coord.CheckAndIngest(ctx, "doc-001")
	require.NoError(t, first.Err)
	assert.Equal(t, ActionReingested, first.Action)
	assert.Equal(t, 2, first.PageCount)
	assert.Positive(t, first.ChunkCount)
	assert.Equal(t, int32(1), f.embedder.calls.Load())

	indexed := f.index.snapshot()
	st, err := f.state.GetState(ctx, "doc-001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "doc-001/v1.pdf", st.LastSourceKey)
	assert.Equal(t, first.ChunkCount, st.ChunkCount)
	assert.Len(t, indexed, first.ChunkCount)

	second := f.coord.CheckAndIngest(ctx, "doc-001")
	require.NoError(t, second.Err)
	assert.Equal(t, ActionNoop, second.Action)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, int32(1), f.embedder.calls.Load(), "noop must not embed")

	stAfter, err := f.state.GetState(ctx, "doc-001")
	require.NoError(t, err)
	assert.Equal(t, st, stAfter)
	assert.Equal(t, indexed, f.index.snapshot())
}

func TestCoordinator_ReingestsOnManifestChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish("doc-001/v1.pdf", sentenceBlock(30))
	require.NoError(t, f.coord.CheckAndIngest(ctx, "doc-001").Err)

	f.publish("doc-001/v2.pdf", sentenceBlock(5))
	res := f.coord.CheckAndIngest(ctx, "doc-001")

	require.NoError(t, res.Err)
	assert.Equal(t, ActionReingested, res.Action)
	assert.Equal(t, "doc-001/v2.pdf", res.SourceKey)
	assert.Len(t, f.index.snapshot(), res.ChunkCount, "stale chunks are deleted before upsert")
}

type volatileIndex struct{ *fakeIndex }

func (v volatileIndex) Count(docID string) int {
	n := 0
	for _, r := range v.snapshot() {
		if r.DocID == docID {
			n++
		}
	}
	return n
}

func TestCoordinator_RebuildsLostVolatileIndex(t *testing.T) {
	f := newFixture(t)
	f.coord.index = volatileIndex{f.index}
	ctx := context.Background()
	f.publish("doc-001/v1.pdf", sentenceBlock(20))

	first := f.coord.CheckAndIngest(ctx, "doc-001")
	require.NoError(t, first.Err)
	assert.Equal(t, ActionNoop, f.coord.CheckAndIngest(ctx, "doc-001").Action)

	// restart: state survived, index did not
	f.index.mu.Lock()
	f.index.records = map[string]models.IndexedChunk{}
	f.index.mu.Unlock()

	res := f.coord.CheckAndIngest(ctx, "doc-001")
	require.NoError(t, res.Err)
	assert.Equal(t, ActionReingested, res.Action)
	assert.Len(t, f.index.snapshot(), first.ChunkCount)
}

func TestCoordinator_TextlessDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish("doc-001/v1.pdf", sentenceBlock(10))
	require.NoError(t, f.coord.CheckAndIngest(ctx, "doc-001").Err)
	before, _ := f.state.GetState(ctx, "doc-001")
	indexed := f.index.snapshot()

	f.publish("doc-001/scan.pdf", "", "  \n ", "")
	res := f.coord.CheckAndIngest(ctx, "doc-001")

	assert.Equal(t, ActionFailed, res.Action)
	assert.ErrorIs(t, res.Err, core.ErrTextlessDocument)
	after, _ := f.state.GetState(ctx, "doc-001")
	assert.Equal(t, before, after)
	assert.Equal(t, indexed, f.index.snapshot())
}

func TestCoordinator_IndexWriteFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.index.upsertErr = errors.New("connection reset")
	f.publish("doc-001/v1.pdf", sentenceBlock(10))

	res := f.coord.CheckAndIngest(context.Background(), "doc-001")

	assert.Equal(t, ActionFailed, res.Action)
	assert.ErrorIs(t, res.Err, core.ErrIndexWrite)
	st, err := f.state.GetState(context.Background(), "doc-001")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCoordinator_ManifestErrors(t *testing.T) {
	t.Run("Should fail when the manifest is missing", func(t *testing.T) {
		f := newFixture(t)
		res := f.coord.CheckAndIngest(context.Background(), "doc-001")
		assert.Equal(t, ActionFailed, res.Action)
		assert.ErrorIs(t, res.Err, core.ErrNotFound)
	})

	t.Run("Should reject a manifest without latest_pdf", func(t *testing.T) {
		f := newFixture(t)
		f.obj.put(testBucket, "doc-001/manifest.json", []byte(`{"latest_pdf":"  "}`))
		res := f.coord.CheckAndIngest(context.Background(), "doc-001")
		assert.ErrorIs(t, res.Err, core.ErrManifestInvalid)
	})
}

func TestCoordinator_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.extractor.delay = 50 * time.Millisecond
	f.publish("doc-001/v1.pdf", sentenceBlock(10))

	var wg sync.WaitGroup
	results := make([]IngestResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.CheckAndIngest(context.Background(), "doc-001")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.NotEqual(t, ActionFailed, r.Action)
	}
	// late arrivals may observe the finished run as a noop, never a second ingestion
	assert.Equal(t, int32(1), f.extractor.calls.Load())
	assert.Equal(t, int32(1), f.embedder.calls.Load())
	assert.Equal(t, PhaseIdle, f.coord.Phase("doc-001"))
}

func TestCoordinator_CallerTimeoutDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	f.extractor.delay = 100 * time.Millisecond
	f.publish("doc-001/v1.pdf", sentenceBlock(10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := f.coord.CheckAndIngest(ctx, "doc-001")
	assert.Equal(t, ActionFailed, res.Action)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		st, _ := f.state.GetState(context.Background(), "doc-001")
		return st != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_BackgroundQueue(t *testing.T) {
	f := newFixture(t)
	f.publish("doc-001/v1.pdf", sentenceBlock(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.coord.Start(ctx, 2)
	require.True(t, f.coord.Enqueue("doc-001"))

	require.Eventually(t, func() bool {
		st, _ := f.coord.Status(context.Background(), "doc-001")
		return st != nil && st.LastSourceKey == "doc-001/v1.pdf"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveSource(t *testing.T) {
	tests := []struct {
		source, bucket, key string
	}{
		{"doc-001/v1.pdf", testBucket, "doc-001/v1.pdf"},
		{"s3://other/doc/v2.pdf", "other", "doc/v2.pdf"},
		{"https://assets.s3.us-east-2.amazonaws.com/doc/v3.pdf", "assets", "doc/v3.pdf"},
	}
	for _, tt := range tests {
		b, k := resolveSource(testBucket, tt.source)
		assert.Equal(t, tt.bucket, b, tt.source)
		assert.Equal(t, tt.key, k, tt.source)
	}
}

func TestFallbackExtractor(t *testing.T) {
	blank := extractorFunc(func(context.Context, []byte) ([]models.Page, error) {
		return []models.Page{{Index: 1, Text: " "}}, nil
	})
	broken := extractorFunc(func(context.Context, []byte) ([]models.Page, error) {
		return nil, errors.New("xref table missing")
	})
	good := extractorFunc(func(context.Context, []byte) ([]models.Page, error) {
		return []models.Page{{Index: 1, Text: "Leave policy"}}, nil
	})

	pages, err := NewFallbackExtractor(broken, blank, good).ExtractPages(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Leave policy", pages[0].Text)

	pages, err = NewFallbackExtractor(broken, blank).ExtractPages(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, core.HasText(pages))

	_, err = NewFallbackExtractor(broken).ExtractPages(context.Background(), nil)
	assert.Error(t, err)
}

type extractorFunc func(context.Context, []byte) ([]models.Page, error)

func (f extractorFunc) ExtractPages(ctx context.Context, data []byte) ([]models.Page, error) {
	return f(ctx, data)
}
