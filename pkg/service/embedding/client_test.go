package embedding_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/service/embedding"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
)

// mockLLMClient is a mock gollem LLMClient for testing
type mockLLMClient struct {
	batches             [][]string
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, errors.New("not used")
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	c.batches = append(c.batches, input)
	if c.generateEmbeddingFn != nil {
		return c.generateEmbeddingFn(ctx, dimension, input)
	}
	out := make([][]float64, len(input))
	for i := range input {
		out[i] = make([]float64, dimension)
		out[i][0] = float64(len(input[i]))
	}
	return out, nil
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("batches and keeps order", func(t *testing.T) {
		llm := &mockLLMClient{}
		c, err := embedding.New(llm, embedding.WithBatchSize(2))
		gt.NoError(t, err).Required()

		vectors, err := c.Embed(ctx, []string{"a", "bb", "ccc"})
		gt.NoError(t, err).Required()
		gt.Array(t, vectors).Length(3).Required()
		gt.Array(t, vectors[0]).Length(model.EmbeddingDimension)
		gt.Value(t, vectors[0][0]).Equal(float32(1))
		gt.Value(t, vectors[2][0]).Equal(float32(3))
		gt.Array(t, llm.batches).Length(2)
	})

	t.Run("empty input makes no call", func(t *testing.T) {
		llm := &mockLLMClient{}
		c, err := embedding.New(llm)
		gt.NoError(t, err).Required()

		vectors, err := c.Embed(ctx, nil)
		gt.NoError(t, err)
		gt.Array(t, vectors).Length(0)
		gt.Array(t, llm.batches).Length(0)
	})

	t.Run("wrong dimension is rejected", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{{0.1, 0.2}}, nil
			},
		}
		c, err := embedding.New(llm)
		gt.NoError(t, err).Required()

		_, err = c.Embed(ctx, []string{"a"})
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		calls := 0
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				calls++
				return nil, errors.New("i/o timeout")
			},
		}
		c, err := embedding.New(llm, embedding.WithRetryPolicy(retry.Policy{Name: "test", MaxAttempts: 3, Retryable: retry.IsTransientIO}))
		gt.NoError(t, err).Required()

		_, err = c.Embed(ctx, []string{"a"})
		gt.Error(t, err).Is(model.ErrTransientIO)
		gt.Number(t, calls).Equal(3)
	})

	t.Run("LLM client is required", func(t *testing.T) {
		_, err := embedding.New(nil)
		gt.Error(t, err).Is(model.ErrConfiguration)
	})
}

func TestEmbed_WithRealGemini(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT not set")
	}
	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		location = "us-central1"
	}

	ctx := context.Background()
	llm, err := gemini.New(ctx, projectID, location)
	gt.NoError(t, err).Required()

	c, err := embedding.New(llm)
	gt.NoError(t, err).Required()

	vectors, err := c.Embed(ctx, []string{"Sew the side seams", "Press the hem"})
	gt.NoError(t, err).Required()
	gt.Array(t, vectors).Length(2)
	gt.Array(t, vectors[0]).Length(model.EmbeddingDimension)
}
