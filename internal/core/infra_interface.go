package core

import (
	"context"

	"github.com/markdave123-py/policyqa/internal/models"
)

// ObjectClient defines interactions with S3 or any object storage.
// GetFile fails with ErrNotFound or ErrAccessDenied for missing or forbidden keys.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// VectorIndex persists chunk vectors and serves cosine top-K queries scoped to a document.
type VectorIndex interface {
	Upsert(ctx context.Context, records []models.IndexedChunk) error
	DeleteWhere(ctx context.Context, docID string) error
	Query(ctx context.Context, vector []float32, topK int, docID string) ([]models.QueryResult, error)
}

// StateStore holds one IngestionState per document identifier.
// GetState returns (nil, nil) when no state has been recorded yet.
type StateStore interface {
	GetState(ctx context.Context, docID string) (*models.IngestionState, error)
	SaveState(ctx context.Context, state *models.IngestionState) error
}
