package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/services"
)

const maxUploadBytes = 50 << 20

// Publisher stores a new document version and repoints its manifest.
type Publisher interface {
	Publish(ctx context.Context, docID, filename, contentType string, data []byte) (*services.PublishResult, error)
}

type DocumentHandler struct {
	ingestor  ingestion_engine.Ingestor
	publisher Publisher
	docID     string
}

func NewDocumentHandler(ing ingestion_engine.Ingestor, publisher Publisher, docID string) *DocumentHandler {
	return &DocumentHandler{ingestor: ing, publisher: publisher, docID: docID}
}

// Health reports the stored ingestion state of the active document.
func (h *DocumentHandler) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.ingestor.Status(r.Context(), h.docID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	body := map[string]any{"doc_id": h.docID, "status": "ok"}
	if st != nil {
		body["last_ingested_key"] = st.LastSourceKey
		body["pages"] = st.PageCount
		body["chunks"] = st.ChunkCount
		body["ingested_at"] = st.IngestedAt
	}
	writeJSON(w, http.StatusOK, body)
}

// Refresh runs the manifest check synchronously and reports its outcome.
func (h *DocumentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	log.Info("manual refresh requested", "doc_id", h.docID)

	res := h.ingestor.CheckAndIngest(r.Context(), h.docID)
	status := http.StatusOK
	if res.Action == ingestion_engine.ActionFailed {
		log.Error("refresh failed", "doc_id", h.docID, "error", res.Error)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// UploadDocument publishes a multipart "file" as the document's latest version.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	res, err := h.publisher.Publish(uploadCtx, h.docID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		logger.FromContext(r.Context()).Error("publish failed", "doc_id", h.docID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
