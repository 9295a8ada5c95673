package llm

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/models"
)

var ErrEmbeddingMismatch = errors.New("embedding response mismatch")

type EmbeddingOptions struct {
	Dim         int
	BatchSize   int
	Concurrency int
	// QueryCacheSize of zero disables the query cache.
	QueryCacheSize int
	Retry          RetryPolicy
}

func DefaultEmbeddingOptions(dim int) EmbeddingOptions {
	return EmbeddingOptions{
		Dim:            dim,
		BatchSize:      64,
		Concurrency:    4,
		QueryCacheSize: 256,
		Retry:          DefaultRetryPolicy(),
	}
}

// EmbeddingClient batches texts to a provider, retries transient failures
// and checks that every vector has the configured dimension.
type EmbeddingClient struct {
	provider core.EmbeddingProvider
	opts     EmbeddingOptions
	cache    *lru.Cache[string, []float32]
}

func NewEmbeddingClient(provider core.EmbeddingProvider, opts EmbeddingOptions) (*EmbeddingClient, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	c := &EmbeddingClient{provider: provider, opts: opts}
	if opts.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float32](opts.QueryCacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

func (c *EmbeddingClient) Dim() int { return c.opts.Dim }

// EmbedTexts returns one vector per input, in input order.
func (c *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for start := 0; start < len(texts); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(texts))
		batch := texts[start:end]
		offset := start
		g.Go(func() error {
			var vecs [][]float32
			err := withRetry(gctx, c.opts.Retry, "embed", func(ctx context.Context) error {
				var err error
				vecs, err = c.provider.EmbedTexts(ctx, batch)
				return err
			})
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingMismatch, len(vecs), len(batch))
			}
			for i, v := range vecs {
				if c.opts.Dim > 0 && len(v) != c.opts.Dim {
					return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingMismatch, offset+i, len(v), c.opts.Dim)
				}
				out[offset+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("embedded texts", "count", len(texts), "batch_size", c.opts.BatchSize)
	return out, nil
}

// EmbedQuery embeds a single question, serving repeats from the cache.
// Callers own the returned slice; the cache keeps its own copy.
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(text); ok {
			return append([]float32(nil), v...), nil
		}
	}
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(text, append([]float32(nil), vecs[0]...))
	}
	return vecs[0], nil
}

var _ core.EmbeddingProvider = (*EmbeddingClient)(nil)

// RetryingLLM retries transient completion failures of the wrapped provider.
type RetryingLLM struct {
	inner  core.LLMProvider
	policy RetryPolicy
}

func NewRetryingLLM(inner core.LLMProvider, policy RetryPolicy) *RetryingLLM {
	return &RetryingLLM{inner: inner, policy: policy}
}

func (r *RetryingLLM) Complete(ctx context.Context, messages []models.ChatMessage, opts core.CompletionOptions) (*core.Completion, error) {
	var out *core.Completion
	err := withRetry(ctx, r.policy, "complete", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Complete(ctx, messages, opts)
		return err
	})
	return out, err
}

var _ core.LLMProvider = (*RetryingLLM)(nil)
