package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/policyqa/internal/core/retrieval"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

// QAEngine is the retrieval surface the chat endpoints serve.
type QAEngine interface {
	Answer(ctx context.Context, req retrieval.AskRequest) (*retrieval.AnswerResult, error)
	DebugSearch(ctx context.Context, question string, topK int, threshold *float64) (*retrieval.DebugResult, error)
	NewSession() string
	GetHistory(sessionID string) []models.ChatMessage
	ClearSession(sessionID string) bool
	Metrics(ctx context.Context) retrieval.MetricsSnapshot
}

type ChatHandler struct {
	engine QAEngine
}

func NewChatHandler(engine QAEngine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

func decodeAsk(w http.ResponseWriter, r *http.Request) (retrieval.AskRequest, error) {
	var req retrieval.AskRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	return req, err
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	res, err := h.engine.Answer(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Error("answer failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ChatHandler) DebugSearch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	res, err := h.engine.DebugSearch(r.Context(), req.Question, req.TopK, req.Threshold)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ChatHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Metrics(r.Context()))
}

func (h *ChatHandler) NewConversation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": h.engine.NewSession()})
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	msgs := h.engine.GetHistory(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    id,
		"messages":      msgs,
		"message_count": len(msgs),
	})
}

func (h *ChatHandler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if !h.engine.ClearSession(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Conversation cleared"})
}
