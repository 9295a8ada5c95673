package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/policyqa/internal/models"
)

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(docID string) bool
	CheckAndIngest(ctx context.Context, docID string) IngestResult
	Status(ctx context.Context, docID string) (*models.IngestionState, error)
}

var _ Ingestor = (*Coordinator)(nil)
