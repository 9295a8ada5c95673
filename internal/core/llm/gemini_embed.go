package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/policyqa/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// geminiMaxBatch is the most texts BatchEmbedContents accepts per request.
const geminiMaxBatch = 100

// EmbedTexts embeds texts with the retrieval-document task type, issuing one
// BatchEmbedContents request per geminiMaxBatch texts.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	return embedInRequests(ctx, texts, geminiMaxBatch, func(ctx context.Context, part []string) ([][]float32, error) {
		batch := em.NewBatch()
		for _, t := range part {
			batch.AddContent(genai.Text(t))
		}
		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embed: %w", classifyGoogle(err))
		}
		out := make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			if e == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, e.Values)
		}
		return out, nil
	})
}

// embedInRequests splits texts into requests of at most size texts and
// rejects responses that drop vectors or return empty ones.
func embedInRequests(ctx context.Context, texts []string, size int, send func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		part := texts[start:min(start+size, len(texts))]
		vecs, err := send(ctx, part)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(part) {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", ErrEmbeddingMismatch, len(vecs), len(part))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector for text %d", ErrEmbeddingMismatch, start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
