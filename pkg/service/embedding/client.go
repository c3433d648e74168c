package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
)

// defaultBatchSize stays below the per request input limit of Vertex AI embedding models
const defaultBatchSize = 100

// Client implements interfaces.Embedder over a gollem LLM client
type Client struct {
	llm       gollem.LLMClient
	dimension int
	batchSize int
	policy    retry.Policy
}

var _ interfaces.Embedder = &Client{}

// Option is a functional option for client configuration
type Option func(*Client)

// WithBatchSize sets how many texts go into one request
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetryPolicy replaces the retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates an embedder. The dimension must match the store schema.
func New(llm gollem.LLMClient, opts ...Option) (*Client, error) {
	if llm == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "LLM client is required for embeddings")
	}

	c := &Client{
		llm:       llm,
		dimension: model.EmbeddingDimension,
		batchSize: defaultBatchSize,
		policy:    retry.EmbedderPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed returns one vector per text, in input order
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := retry.Value(ctx, c.policy, func(ctx context.Context) ([][]float64, error) {
			v, err := c.llm.GenerateEmbedding(ctx, c.dimension, batch)
			if err != nil {
				if retry.IsTransientIO(err) {
					return nil, goerr.Wrap(model.Tag(model.ErrTransientIO, err), "embedding request failed")
				}
				return nil, goerr.Wrap(err, "embedding request failed")
			}
			return v, nil
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to generate embeddings",
				goerr.V("batch_start", start), goerr.V("batch_size", len(batch)))
		}
		if len(vectors) != len(batch) {
			return nil, goerr.Wrap(model.ErrValidation, "embedding count does not match input",
				goerr.V("expected", len(batch)), goerr.V("actual", len(vectors)))
		}

		for i, v := range vectors {
			if len(v) != c.dimension {
				return nil, goerr.Wrap(model.ErrValidation, "unexpected embedding dimension",
					goerr.V("index", start+i), goerr.V("expected", c.dimension), goerr.V("actual", len(v)))
			}
			// Convert float64 to float32
			converted := make([]float32, len(v))
			for j, f := range v {
				converted[j] = float32(f)
			}
			result = append(result, converted)
		}
	}

	return result, nil
}
