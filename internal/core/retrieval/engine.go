package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/markdave123-py/policyqa/internal/core"
	ingestion "github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

// Syncer is the part of the ingestion coordinator the engine depends on.
type Syncer interface {
	CheckAndIngest(ctx context.Context, docID string) ingestion.IngestResult
	Status(ctx context.Context, docID string) (*models.IngestionState, error)
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	DocID           string
	TopK            int
	Threshold       float64
	Temperature     float32
	MaxTokens       int
	SnippetMaxChars int
	HistoryMessages int
	PriceInPerM     float64
	PriceOutPerM    float64
	// AutoSync runs the ingestion check before every answer and debug search.
	AutoSync bool
}

func DefaultConfig(docID string) Config {
	return Config{
		DocID:           docID,
		TopK:            6,
		Threshold:       0.25,
		Temperature:     0.1,
		MaxTokens:       1000,
		SnippetMaxChars: 1200,
		HistoryMessages: 12,
		PriceInPerM:     0.60,
		PriceOutPerM:    2.40,
		AutoSync:        true,
	}
}

type AskRequest struct {
	Question  string   `json:"question"`
	SessionID string   `json:"session_id,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type AnswerResult struct {
	Answer     string                  `json:"answer"`
	CitedPages []int                   `json:"sources"`
	SessionID  string                  `json:"session_id"`
	Grounded   bool                    `json:"grounded"`
	Usage      models.Usage            `json:"usage"`
	LatencyMs  int64                   `json:"latency_ms"`
	P50Ms      float64                 `json:"p50_ms"`
	P95Ms      float64                 `json:"p95_ms"`
	Sync       *ingestion.IngestResult `json:"synced,omitempty"`
}

type DebugHit struct {
	Rank           int     `json:"rank"`
	Score          float64 `json:"score"`
	Page           int     `json:"page"`
	ChunkID        string  `json:"chunk_id"`
	TextPreview    string  `json:"text_preview"`
	AboveThreshold bool    `json:"above_threshold"`
}

type DebugResult struct {
	Question  string                  `json:"question"`
	Threshold float64                 `json:"threshold"`
	TopK      int                     `json:"top_k"`
	TotalHits int                     `json:"total_hits"`
	Hits      []DebugHit              `json:"hits"`
	Sync      *ingestion.IngestResult `json:"synced,omitempty"`
}

// Engine answers questions against the vector index of one document.
type Engine struct {
	cfg      Config
	syncer   Syncer
	embedder QueryEmbedder
	index    core.VectorIndex
	llm      core.LLMProvider
	sessions *SessionRegistry
	metrics  *Metrics
}

func NewEngine(
	cfg Config,
	syncer Syncer,
	embedder QueryEmbedder,
	index core.VectorIndex,
	llm core.LLMProvider,
	sessions *SessionRegistry,
	metrics *Metrics,
) *Engine {
	if metrics == nil {
		metrics = NewMetrics(0, nil)
	}
	return &Engine{
		cfg: cfg, syncer: syncer, embedder: embedder, index: index,
		llm: llm, sessions: sessions, metrics: metrics,
	}
}

func (e *Engine) params(topK int, threshold *float64) (int, float64) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	thr := e.cfg.Threshold
	if threshold != nil {
		thr = *threshold
	}
	return topK, thr
}

// sync runs the ingestion check. Failures are returned as metadata only.
func (e *Engine) sync(ctx context.Context) *ingestion.IngestResult {
	if e.syncer == nil || !e.cfg.AutoSync {
		return nil
	}
	res := e.syncer.CheckAndIngest(ctx, e.cfg.DocID)
	e.metrics.ObserveSync(string(res.Action))
	if res.Action == ingestion.ActionFailed {
		logger.FromContext(ctx).Warn("document sync failed, answering from last good index",
			"doc_id", e.cfg.DocID, "error", res.Error)
	}
	return &res
}

// Answer runs one retrieval-augmented exchange in the given session.
func (e *Engine) Answer(ctx context.Context, req AskRequest) (*AnswerResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidInput)
	}

	sessionID, created := e.sessions.Resolve(req.SessionID)
	log := logger.FromContext(ctx).With("session_id", sessionID)
	topK, threshold := e.params(req.TopK, req.Threshold)
	log.Info("question received", "new_session", created, "top_k", topK, "threshold", threshold)

	sync := e.sync(ctx)

	qvec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := e.index.Query(ctx, qvec, topK, e.cfg.DocID)
	if err != nil {
		log.Warn("vector index query failed, answering without context", "error", err)
		hits = nil
	}
	kept := filterHits(hits, threshold)
	if len(hits) > 0 {
		log.Info("retrieved", "hits", len(hits), "kept", len(kept), "max_score", hits[0].Score)
	}

	snippets := make([]string, 0, len(kept))
	for _, h := range kept {
		snippets = append(snippets, formatSnippet(h, e.cfg.SnippetMaxChars))
	}
	pages := citedPages(kept)

	history := e.sessions.Recent(sessionID, e.cfg.HistoryMessages)
	messages := buildMessages(snippets, history, question)

	start := time.Now()
	comp, err := e.llm.Complete(ctx, messages, core.CompletionOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	latency := time.Since(start)
	usage := e.cost(comp)

	now := time.Now()
	e.sessions.Append(sessionID,
		models.ChatMessage{Role: models.RoleUser, Content: question, Timestamp: now},
		models.ChatMessage{Role: models.RoleAssistant, Content: comp.Text, Sources: pages, Timestamp: now},
	)

	grounded := len(kept) > 0
	e.metrics.ObserveQuery(latency, usage, grounded)
	p50, p95 := e.metrics.Percentiles()

	log.Info("answered",
		"grounded", grounded, "pages", pages, "latency_ms", latency.Milliseconds(),
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens, "usd", usage.USDTotal)

	return &AnswerResult{
		Answer:     comp.Text,
		CitedPages: pages,
		SessionID:  sessionID,
		Grounded:   grounded,
		Usage:      usage,
		LatencyMs:  latency.Milliseconds(),
		P50Ms:      p50,
		P95Ms:      p95,
		Sync:       sync,
	}, nil
}

// DebugSearch returns the raw ranked hits without calling the language model.
func (e *Engine) DebugSearch(ctx context.Context, question string, topK int, threshold *float64) (*DebugResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidInput)
	}
	topK, thr := e.params(topK, threshold)
	sync := e.sync(ctx)

	qvec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := e.index.Query(ctx, qvec, topK, e.cfg.DocID)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	out := &DebugResult{
		Question: question, Threshold: thr, TopK: topK,
		TotalHits: len(hits), Hits: make([]DebugHit, 0, len(hits)), Sync: sync,
	}
	for i, h := range hits {
		out.Hits = append(out.Hits, DebugHit{
			Rank:           i + 1,
			Score:          h.Score,
			Page:           h.PageStart,
			ChunkID:        h.ChunkID,
			TextPreview:    preview(h.Text, 200),
			AboveThreshold: h.Score >= thr,
		})
	}
	return out, nil
}

func (e *Engine) NewSession() string {
	return e.sessions.New()
}

func (e *Engine) GetHistory(sessionID string) []models.ChatMessage {
	h := e.sessions.History(sessionID)
	if h == nil {
		return []models.ChatMessage{}
	}
	return h
}

func (e *Engine) ClearSession(sessionID string) bool {
	return e.sessions.Clear(sessionID)
}

// Metrics returns the serving snapshot with the last ingested key.
func (e *Engine) Metrics(ctx context.Context) MetricsSnapshot {
	snap := e.metrics.Snapshot()
	snap.ActiveSessions = e.sessions.Len()
	if e.syncer != nil {
		if st, err := e.syncer.Status(ctx, e.cfg.DocID); err == nil && st != nil {
			snap.LastIngestedKey = st.LastSourceKey
		}
	}
	return snap
}

func (e *Engine) cost(c *core.Completion) models.Usage {
	in := float64(c.PromptTokens) / 1e6 * e.cfg.PriceInPerM
	out := float64(c.CompletionTokens) / 1e6 * e.cfg.PriceOutPerM
	return models.Usage{
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		USDIn:            round6(in),
		USDOut:           round6(out),
		USDTotal:         round6(in + out),
	}
}

// filterHits drops every hit scoring below threshold, preserving order.
func filterHits(hits []models.QueryResult, threshold float64) []models.QueryResult {
	out := make([]models.QueryResult, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// citedPages is the sorted union of page_start..page_end over hits.
func citedPages(hits []models.QueryResult) []int {
	seen := make(map[int]struct{})
	for _, h := range hits {
		end := max(h.PageEnd, h.PageStart)
		for p := h.PageStart; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
