package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

type Action string

const (
	ActionNoop       Action = "noop"
	ActionReingested Action = "reingested"
	ActionFailed     Action = "failed"
)

// Phase is the coordinator state of one document.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseChecking  Phase = "checking"
	PhaseIngesting Phase = "ingesting"
)

type IngestResult struct {
	Action     Action `json:"action"`
	SourceKey  string `json:"source_key,omitempty"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

func failed(err error) IngestResult {
	return IngestResult{Action: ActionFailed, Error: err.Error(), Err: err}
}

// Coordinator keeps the vector index in sync with the manifest. At most one
// run per document is in flight; concurrent callers share its result.
type Coordinator struct {
	obj       core.ObjectClient
	index     core.VectorIndex
	state     core.StateStore
	extractor core.PageExtractor
	chunker   *SemanticChunker
	embedder  core.EmbeddingProvider
	cfg       *IngestConfig

	group  singleflight.Group
	mu     sync.Mutex
	phases map[string]Phase
	jobs   chan string
	now    func() time.Time
}

// NewCoordinator constructs the coordinator with a bounded refresh queue (64).
func NewCoordinator(
	obj core.ObjectClient,
	index core.VectorIndex,
	state core.StateStore,
	extractor core.PageExtractor,
	chunker *SemanticChunker,
	embedder core.EmbeddingProvider,
	cfg *IngestConfig,
) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Coordinator{
		obj: obj, index: index, state: state, extractor: extractor,
		chunker: chunker, embedder: embedder, cfg: cfg,
		phases: make(map[string]Phase),
		jobs:   make(chan string, 64),
		now:    time.Now,
	}
}

// Start runs worker goroutines draining the refresh queue.
func (c *Coordinator) Start(ctx context.Context, numWorkers int) {
	log := logger.FromContext(ctx)
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Debug("ingestion worker shutting down", "worker", w)
					return
				case docID := <-c.jobs:
					res := c.CheckAndIngest(ctx, docID)
					if res.Err != nil {
						log.Error("background ingestion failed", "doc_id", docID, "worker", w, "error", res.Err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a background check. It reports false when the queue is full.
func (c *Coordinator) Enqueue(docID string) bool {
	select {
	case c.jobs <- docID:
		return true
	default:
		return false
	}
}

func (c *Coordinator) Status(ctx context.Context, docID string) (*models.IngestionState, error) {
	return c.state.GetState(ctx, docID)
}

func (c *Coordinator) Phase(docID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[docID]; ok {
		return p
	}
	return PhaseIdle
}

func (c *Coordinator) setPhase(docID string, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == PhaseIdle {
		delete(c.phases, docID)
		return
	}
	c.phases[docID] = p
}

func (c *Coordinator) manifestKey(docID string) string {
	if docID == c.cfg.DocID && c.cfg.ManifestKey != "" {
		return c.cfg.ManifestKey
	}
	return ManifestKey(docID)
}

// chunkCounter is implemented by indexes that do not survive a restart.
type chunkCounter interface {
	Count(docID string) int
}

// NeedsRefresh compares the manifest's source key with the stored state.
// It never writes to the index. A volatile index that lost the chunks the
// state still records also needs a refresh.
func (c *Coordinator) NeedsRefresh(ctx context.Context, docID string) (sourceKey string, prev *models.IngestionState, needed bool, err error) {
	m, err := LoadManifest(ctx, c.obj, c.cfg.Bucket, c.manifestKey(docID))
	if err != nil {
		return "", nil, false, err
	}
	prev, err = c.state.GetState(ctx, docID)
	if err != nil {
		return "", nil, false, fmt.Errorf("read ingestion state: %w", err)
	}
	if prev == nil || prev.LastSourceKey != m.LatestPDF {
		return m.LatestPDF, prev, true, nil
	}
	if cc, ok := c.index.(chunkCounter); ok && prev.ChunkCount > 0 && cc.Count(docID) == 0 {
		return m.LatestPDF, prev, true, nil
	}
	return m.LatestPDF, prev, false, nil
}

// CheckAndIngest re-ingests the document when its manifest moved. The run
// itself is detached from ctx; a caller whose ctx ends stops waiting while
// the run completes for the callers still attached.
func (c *Coordinator) CheckAndIngest(ctx context.Context, docID string) IngestResult {
	ch := c.group.DoChan(docID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.run(runCtx, docID), nil
	})
	select {
	case r := <-ch:
		return r.Val.(IngestResult)
	case <-ctx.Done():
		return failed(ctx.Err())
	}
}

func (c *Coordinator) run(ctx context.Context, docID string) IngestResult {
	log := logger.FromContext(ctx).With("doc_id", docID)
	defer c.setPhase(docID, PhaseIdle)

	c.setPhase(docID, PhaseChecking)
	sourceKey, prev, needed, err := c.NeedsRefresh(ctx, docID)
	if err != nil {
		log.Error("manifest check failed", "error", err)
		return failed(err)
	}
	if !needed {
		log.Debug("index up to date", "source_key", sourceKey)
		return IngestResult{Action: ActionNoop, SourceKey: sourceKey, PageCount: prev.PageCount, ChunkCount: prev.ChunkCount}
	}

	c.setPhase(docID, PhaseIngesting)
	start := c.now()
	res, err := c.ingest(ctx, docID, sourceKey)
	if err != nil {
		log.Error("ingestion failed", "source_key", sourceKey, "error", err)
		r := failed(err)
		r.SourceKey = sourceKey
		return r
	}
	log.Info("ingestion complete", "source_key", sourceKey, "pages", res.PageCount,
		"chunks", res.ChunkCount, "duration", time.Since(start))
	return res
}

func (c *Coordinator) ingest(ctx context.Context, docID, sourceKey string) (IngestResult, error) {
	bucket, key := resolveSource(c.cfg.Bucket, sourceKey)
	data, err := c.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return IngestResult{}, fmt.Errorf("get source %s: %w", sourceKey, err)
	}

	pages, err := c.extractor.ExtractPages(ctx, data)
	if err != nil {
		return IngestResult{}, fmt.Errorf("extract pages: %w", err)
	}
	if !core.HasText(pages) {
		return IngestResult{}, fmt.Errorf("%w: %s (%d pages)", core.ErrTextlessDocument, sourceKey, len(pages))
	}

	chunks := c.chunker.ChunkDocument(ctx, docID, pages)
	if len(chunks) == 0 {
		return IngestResult{}, errors.New("chunking produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return IngestResult{}, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]models.IndexedChunk, len(chunks))
	for i, ch := range chunks {
		records[i] = models.IndexedChunk{Chunk: ch, Embedding: vectors[i]}
	}

	if err := c.index.DeleteWhere(ctx, docID); err != nil {
		return IngestResult{}, fmt.Errorf("%w: delete previous chunks: %w", core.ErrIndexWrite, err)
	}
	if err := c.index.Upsert(ctx, records); err != nil {
		return IngestResult{}, fmt.Errorf("%w: upsert chunks: %w", core.ErrIndexWrite, err)
	}

	// state advances only after the index write succeeded
	st := &models.IngestionState{
		DocID:         docID,
		LastSourceKey: sourceKey,
		PageCount:     len(pages),
		ChunkCount:    len(chunks),
		IngestedAt:    c.now().UTC(),
	}
	if err := c.state.SaveState(ctx, st); err != nil {
		return IngestResult{}, fmt.Errorf("save ingestion state: %w", err)
	}

	return IngestResult{Action: ActionReingested, SourceKey: sourceKey, PageCount: len(pages), ChunkCount: len(chunks)}, nil
}
