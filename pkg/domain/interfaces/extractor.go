package interfaces

import (
	"context"

	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// Extractor turns a PDF into a validated structured record
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (*model.StructuredRecord, error)
}

// Embedder computes fixed-dimension embeddings. The same embedder must serve storage and search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
