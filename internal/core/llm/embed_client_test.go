package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

var fastRetry = RetryPolicy{MaxRetries: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}

type stubEmbedder struct {
	mu       sync.Mutex
	calls    atomic.Int32
	batches  [][]string
	dim      int
	failures []error
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.batches = append(s.batches, texts)
	s.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, s.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func TestEmbeddingClient_EmbedTexts(t *testing.T) {
	t.Run("Should batch and preserve input order", func(t *testing.T) {
		stub := &stubEmbedder{dim: 4}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 4, BatchSize: 3, Concurrency: 2, Retry: fastRetry})
		require.NoError(t, err)

		texts := make([]string, 10)
		for i := range texts {
			texts[i] = fmt.Sprintf("%*s", i+1, "x")
		}
		vecs, err := c.EmbedTexts(context.Background(), texts)
		require.NoError(t, err)
		require.Len(t, vecs, 10)
		for i, v := range vecs {
			assert.Equal(t, float32(i+1), v[0])
		}
		assert.Equal(t, int32(4), stub.calls.Load())
	})

	t.Run("Should return an empty result for no input", func(t *testing.T) {
		stub := &stubEmbedder{dim: 4}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 4, Retry: fastRetry})
		require.NoError(t, err)
		vecs, err := c.EmbedTexts(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
		assert.Zero(t, stub.calls.Load())
	})

	t.Run("Should reject vectors of the wrong dimension", func(t *testing.T) {
		stub := &stubEmbedder{dim: 3}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 4, Retry: fastRetry})
		require.NoError(t, err)
		_, err = c.EmbedTexts(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, ErrEmbeddingMismatch)
	})

	t.Run("Should retry rate limits", func(t *testing.T) {
		stub := &stubEmbedder{dim: 2, failures: []error{
			fmt.Errorf("%w: slow down", core.ErrRateLimited),
			fmt.Errorf("%w: 503", core.ErrProviderUnavailable),
		}}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 2, Retry: fastRetry})
		require.NoError(t, err)
		vecs, err := c.EmbedTexts(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, vecs, 2)
		assert.Equal(t, int32(3), stub.calls.Load())
	})

	t.Run("Should not retry invalid input", func(t *testing.T) {
		stub := &stubEmbedder{dim: 2, failures: []error{fmt.Errorf("%w: too long", core.ErrInvalidInput)}}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 2, Retry: fastRetry})
		require.NoError(t, err)
		_, err = c.EmbedTexts(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Equal(t, int32(1), stub.calls.Load())
	})

	t.Run("Should give up after the retry budget", func(t *testing.T) {
		limited := fmt.Errorf("%w: quota", core.ErrRateLimited)
		stub := &stubEmbedder{dim: 2, failures: []error{limited, limited, limited, limited, limited}}
		c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 2, Retry: fastRetry})
		require.NoError(t, err)
		_, err = c.EmbedTexts(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, core.ErrRateLimited)
		assert.Equal(t, int32(4), stub.calls.Load())
	})
}

func TestEmbeddingClient_EmbedQueryCaches(t *testing.T) {
	stub := &stubEmbedder{dim: 2}
	c, err := NewEmbeddingClient(stub, EmbeddingOptions{Dim: 2, QueryCacheSize: 8, Retry: fastRetry})
	require.NoError(t, err)

	a, err := c.EmbedQuery(context.Background(), "how many leave days?")
	require.NoError(t, err)
	b, err := c.EmbedQuery(context.Background(), "how many leave days?")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), stub.calls.Load())

	t.Run("Should not share cached vectors with callers", func(t *testing.T) {
		want := append([]float32(nil), a...)
		a[0], b[1] = 99, -99

		c2, err := c.EmbedQuery(context.Background(), "how many leave days?")
		require.NoError(t, err)
		assert.Equal(t, want, c2)
		assert.Equal(t, int32(1), stub.calls.Load())
	})
}

type flakyLLM struct {
	calls atomic.Int32
	errs  []error
}

func (f *flakyLLM) Complete(context.Context, []models.ChatMessage, core.CompletionOptions) (*core.Completion, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return &core.Completion{Text: "ok", PromptTokens: 10, CompletionTokens: 2}, nil
}

func TestRetryingLLM(t *testing.T) {
	inner := &flakyLLM{errs: []error{fmt.Errorf("%w: busy", core.ErrProviderUnavailable)}}
	llm := NewRetryingLLM(inner, fastRetry)

	out, err := llm.Complete(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, core.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestClassifyGoogle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rest 429", &googleapi.Error{Code: 429, Message: "quota"}, core.ErrRateLimited},
		{"rest 500", &googleapi.Error{Code: 500}, core.ErrProviderUnavailable},
		{"rest 400", &googleapi.Error{Code: 400}, core.ErrInvalidInput},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), core.ErrRateLimited},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), core.ErrProviderUnavailable},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), core.ErrInvalidInput},
		{"message only", errors.New("Too Many Requests"), core.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyGoogle(tt.err), tt.want)
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, classifyGoogle(plain))
	assert.NoError(t, classifyGoogle(nil))
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("upstream")
	assert.ErrorIs(t, classifyStatus(429, base), core.ErrRateLimited)
	assert.ErrorIs(t, classifyStatus(502, base), core.ErrProviderUnavailable)
	assert.ErrorIs(t, classifyStatus(413, base), core.ErrInvalidInput)
	assert.Equal(t, base, classifyStatus(401, base))
	assert.ErrorIs(t, classifyOpenAI(errors.New("rate limit reached")), core.ErrRateLimited)
}

func TestSplitChat(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "rules"},
		{Role: models.RoleAssistant, Content: "orphaned answer"},
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "q2"},
	}

	system, history, prompt := splitChat(msgs)

	assert.Len(t, system, 1)
	assert.Equal(t, "q2", prompt)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
}

func TestEmbedInRequests(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}

	t.Run("Should split into requests of at most size texts", func(t *testing.T) {
		var sizes []int
		out, err := embedInRequests(context.Background(), texts, 100, func(_ context.Context, part []string) ([][]float32, error) {
			sizes = append(sizes, len(part))
			vecs := make([][]float32, len(part))
			for i := range part {
				vecs[i] = []float32{float32(len(sizes)), float32(i)}
			}
			return vecs, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{100, 100, 50}, sizes)
		require.Len(t, out, 250)
		assert.Equal(t, []float32{3, 49}, out[249])
	})

	t.Run("Should reject a short response", func(t *testing.T) {
		_, err := embedInRequests(context.Background(), texts[:3], 100, func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}, {2}}, nil
		})
		assert.ErrorIs(t, err, ErrEmbeddingMismatch)
	})

	t.Run("Should reject an empty vector", func(t *testing.T) {
		_, err := embedInRequests(context.Background(), texts[:2], 100, func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}, nil}, nil
		})
		assert.ErrorIs(t, err, ErrEmbeddingMismatch)
	})

	t.Run("Should skip the provider for no texts", func(t *testing.T) {
		out, err := embedInRequests(context.Background(), nil, 100, func(context.Context, []string) ([][]float32, error) {
			t.Fatal("unexpected request")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}
