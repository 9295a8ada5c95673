package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

// ManifestKey is the conventional manifest location of a document.
func ManifestKey(docID string) string {
	return docID + "/manifest.json"
}

// LoadManifest fetches and validates the manifest stored at key.
func LoadManifest(ctx context.Context, obj core.ObjectClient, bucket, key string) (*models.Manifest, error) {
	raw, err := obj.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", key, err)
	}
	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", core.ErrManifestInvalid, key, err)
	}
	m.LatestPDF = strings.TrimSpace(m.LatestPDF)
	if m.LatestPDF == "" {
		return nil, fmt.Errorf("%w: %s has no latest_pdf", core.ErrManifestInvalid, key)
	}
	return &m, nil
}

// resolveSource splits a manifest source into bucket and key. Plain keys
// live in the default bucket; s3:// and virtual-hosted https URLs name their own.
func resolveSource(defaultBucket, source string) (bucket, key string) {
	switch {
	case strings.HasPrefix(source, "s3://"):
		parts := strings.SplitN(strings.TrimPrefix(source, "s3://"), "/", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return parts[0], ""
	case strings.HasPrefix(source, "https://"):
		return parseS3URL(source)
	default:
		return defaultBucket, strings.TrimPrefix(source, "/")
	}
}

// parseS3URL extracts the bucket and key from a typical virtual-hosted–style S3 URL.
// Example: https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf
func parseS3URL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
