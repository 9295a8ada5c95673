package core

import (
	"context"

	"github.com/markdave123-py/policyqa/internal/models"
)

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionOptions are the decoding settings of a single completion call.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// Completion is the text and token usage returned by a language model.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []models.ChatMessage, opts CompletionOptions) (*Completion, error)
}
