package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

// Enqueuer schedules a background refresh of a document.
type Enqueuer interface {
	Enqueue(docID string) bool
}

type PublishResult struct {
	DocID       string `json:"doc_id"`
	SourceKey   string `json:"source_key"`
	URL         string `json:"url"`
	ManifestKey string `json:"manifest_key"`
	Queued      bool   `json:"queued"`
}

// DocumentService publishes new document versions: it uploads the source,
// repoints the manifest at it and queues a refresh.
type DocumentService struct {
	storage     core.ObjectClient
	bucket      string
	manifestKey func(docID string) string
	queue       Enqueuer
	now         func() time.Time
}

func NewDocumentService(storage core.ObjectClient, bucket string, manifestKey func(string) string, queue Enqueuer) *DocumentService {
	return &DocumentService{
		storage:     storage,
		bucket:      bucket,
		manifestKey: manifestKey,
		queue:       queue,
		now:         time.Now,
	}
}

func (s *DocumentService) Publish(ctx context.Context, docID, filename, contentType string, data []byte) (*PublishResult, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return nil, errors.New("doc id is required")
	}
	if len(data) == 0 {
		return nil, errors.New("document is empty")
	}
	if contentType == "" {
		contentType = "application/pdf"
	}

	key := s.objectKey(docID, filename)
	url, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}

	manifest, err := json.Marshal(models.Manifest{LatestPDF: key})
	if err != nil {
		return nil, err
	}
	mKey := s.manifestKey(docID)
	if _, err := s.storage.UploadFile(ctx, s.bucket, mKey, manifest, "application/json"); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	res := &PublishResult{DocID: docID, SourceKey: key, URL: url, ManifestKey: mKey}
	if s.queue != nil {
		res.Queued = s.queue.Enqueue(docID)
	}
	logger.FromContext(ctx).Info("document published", "doc_id", docID, "source_key", key, "queued", res.Queued)
	return res, nil
}

// objectKey creates a consistent S3 key layout: <doc>/<utc timestamp>-<file>.
func (s *DocumentService) objectKey(docID, filename string) string {
	filename = strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "" || filename == "." || filename == "/" {
		filename = "document.pdf"
	}
	return path.Join(docID, s.now().UTC().Format("20060102T150405Z")+"-"+filename)
}
