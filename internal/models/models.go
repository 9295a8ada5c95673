package models

import (
	"fmt"
	"time"
)

// Page is one page of extracted document text. Index is 1-based.
type Page struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ChunkKind records which chunking path produced a chunk.
type ChunkKind string

const (
	ChunkNormal         ChunkKind = "normal"
	ChunkOversizedSplit ChunkKind = "oversized_split"
	ChunkForceSplit     ChunkKind = "force_split"
	ChunkStitched       ChunkKind = "stitched"
)

// Chunk is a token-bounded span of document text prepared for embedding.
type Chunk struct {
	ID         string    `db:"id" json:"id"`
	DocID      string    `db:"doc_id" json:"doc_id"`
	PageStart  int       `db:"page_start" json:"page_start"`
	PageEnd    int       `db:"page_end" json:"page_end"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Text       string    `db:"text" json:"text"`
	Kind       ChunkKind `db:"kind" json:"kind"`
	TokenCount int       `db:"token_count" json:"token_count"`
}

// ChunkID derives the stable identifier of a chunk. Re-ingesting identical
// input yields identical ids, so index upserts overwrite instead of duplicating.
func ChunkID(docID string, pageStart, chunkIndex int) string {
	return fmt.Sprintf("%s:%d:%d", docID, pageStart, chunkIndex)
}

// IndexedChunk is a chunk together with its embedding, as stored in the vector index.
type IndexedChunk struct {
	Chunk
	Embedding []float32 `db:"embedding" json:"embedding"` // pgvector column
}

// IngestionState is the single persisted ingestion record per document.
type IngestionState struct {
	DocID         string    `db:"doc_id" json:"doc_id"`
	LastSourceKey string    `db:"last_source_key" json:"last_source_key"`
	PageCount     int       `db:"page_count" json:"page_count"`
	ChunkCount    int       `db:"chunk_count" json:"chunk_count"`
	IngestedAt    time.Time `db:"ingested_at" json:"ingested_at"`
}

// Manifest points at the current authoritative source document.
type Manifest struct {
	LatestPDF string `json:"latest_pdf"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents an individual chat message (user or assistant).
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []int     `json:"sources,omitempty"` // cited pages, assistant messages only
	Timestamp time.Time `json:"timestamp"`
}

// QueryResult is one ranked hit from the vector index.
type QueryResult struct {
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	PageStart int     `json:"page"`
	PageEnd   int     `json:"page_end"`
	Text      string  `json:"text"`
}

// Usage carries token counts and the computed cost of one completion.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USDIn            float64 `json:"usd_in"`
	USDOut           float64 `json:"usd_out"`
	USDTotal         float64 `json:"usd_total"`
}
