package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

// pgxPool is the subset of *pgxpool.Pool the client uses; pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// DatabaseClient is the Postgres + pgvector backend. It serves both the
// vector index and the ingestion state.
type DatabaseClient struct {
	pool pgxPool
}

func NewDatabaseClient(ctx context.Context, databaseURL string, embedDim int) (*DatabaseClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if embedDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", embedDim)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, pool, embedDim); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return newDatabaseClient(pool), nil
}

func newDatabaseClient(pool pgxPool) *DatabaseClient {
	return &DatabaseClient{pool: pool}
}

func (c *DatabaseClient) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Implementing the vector index

// Upsert writes all records in one transaction, overwriting rows with the same chunk id.
func (c *DatabaseClient) Upsert(ctx context.Context, records []models.IndexedChunk) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks
			(id, doc_id, page_start, page_end, chunk_index, kind, token_count, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			page_start = EXCLUDED.page_start,
			page_end = EXCLUDED.page_end,
			chunk_index = EXCLUDED.chunk_index,
			kind = EXCLUDED.kind,
			token_count = EXCLUDED.token_count,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding
	`
	for i := range records {
		r := &records[i]
		if _, err := tx.Exec(ctx, q,
			r.ID, r.DocID, r.PageStart, r.PageEnd, r.ChunkIndex, string(r.Kind), r.TokenCount, r.Text,
			pgvector.NewVector(r.Embedding),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (c *DatabaseClient) DeleteWhere(ctx context.Context, docID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID)
	return err
}

// Query ranks the document's chunks by cosine similarity, best first.
func (c *DatabaseClient) Query(ctx context.Context, vector []float32, topK int, docID string) ([]models.QueryResult, error) {
	if topK <= 0 {
		return []models.QueryResult{}, nil
	}
	const q = `
		SELECT id, page_start, page_end, text, 1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE doc_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := c.pool.Query(ctx, q, pgvector.NewVector(vector), docID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.QueryResult, 0, topK)
	for rows.Next() {
		var r models.QueryResult
		if err := rows.Scan(&r.ChunkID, &r.PageStart, &r.PageEnd, &r.Text, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Implementing the state store

func (c *DatabaseClient) GetState(ctx context.Context, docID string) (*models.IngestionState, error) {
	const q = `
		SELECT doc_id, last_source_key, page_count, chunk_count, ingested_at
		FROM ingestion_state WHERE doc_id = $1
	`
	var st models.IngestionState
	err := c.pool.QueryRow(ctx, q, docID).Scan(
		&st.DocID, &st.LastSourceKey, &st.PageCount, &st.ChunkCount, &st.IngestedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *DatabaseClient) SaveState(ctx context.Context, st *models.IngestionState) error {
	if st == nil {
		return errors.New("nil ingestion state")
	}
	const q = `
		INSERT INTO ingestion_state (doc_id, last_source_key, page_count, chunk_count, ingested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doc_id) DO UPDATE SET
			last_source_key = EXCLUDED.last_source_key,
			page_count = EXCLUDED.page_count,
			chunk_count = EXCLUDED.chunk_count,
			ingested_at = EXCLUDED.ingested_at
	`
	_, err := c.pool.Exec(ctx, q, st.DocID, st.LastSourceKey, st.PageCount, st.ChunkCount, st.IngestedAt)
	return err
}

var (
	_ core.VectorIndex = (*DatabaseClient)(nil)
	_ core.StateStore  = (*DatabaseClient)(nil)
)
