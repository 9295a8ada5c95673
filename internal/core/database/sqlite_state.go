package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

// SQLiteStateStore persists ingestion state to a local file in local mode.
type SQLiteStateStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStateStore(ctx context.Context, path string) (*SQLiteStateStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS ingestion_state (
			doc_id          TEXT PRIMARY KEY,
			last_source_key TEXT NOT NULL,
			page_count      INTEGER NOT NULL,
			chunk_count     INTEGER NOT NULL,
			ingested_at     TEXT NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}
	return &SQLiteStateStore{db: db, path: path}, nil
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStateStore) GetState(ctx context.Context, docID string) (*models.IngestionState, error) {
	var (
		st         models.IngestionState
		ingestedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, last_source_key, page_count, chunk_count, ingested_at
		FROM ingestion_state WHERE doc_id = ?`, docID).
		Scan(&st.DocID, &st.LastSourceKey, &st.PageCount, &st.ChunkCount, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing ingested_at: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStateStore) SaveState(ctx context.Context, st *models.IngestionState) error {
	if st == nil {
		return errors.New("nil ingestion state")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_state (doc_id, last_source_key, page_count, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET
			last_source_key = excluded.last_source_key,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at`,
		st.DocID, st.LastSourceKey, st.PageCount, st.ChunkCount, st.IngestedAt.UTC().Format(time.RFC3339Nano))
	return err
}

var _ core.StateStore = (*SQLiteStateStore)(nil)
