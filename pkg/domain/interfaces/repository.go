package interfaces

import (
	"context"

	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// Repository defines the interface for data persistence
type Repository interface {
	Document() DocumentRepository

	// HealthCheck runs a cheap round trip. It never fails loudly.
	HealthCheck(ctx context.Context) bool
	// Reconnect disposes and re-creates the underlying pool
	Reconnect(ctx context.Context) error
	// Status describes the backend for health output
	Status() model.DatabaseStatus

	Close() error
}

// DocumentRepository stores Documents with their Instructions and serves similarity search
type DocumentRepository interface {
	// StoreDocument inserts doc and its instructions in one transaction. Instructions keep the given order.
	// A taken filename fails with model.ErrAlreadyExists.
	StoreDocument(ctx context.Context, doc *model.Document, instructions []*model.Instruction) (model.DocumentID, error)

	// GetDocument returns nil without error when absent
	GetDocument(ctx context.Context, id model.DocumentID) (*model.Document, error)

	// GetDocumentByFilename returns nil without error when absent
	GetDocumentByFilename(ctx context.Context, filename string) (*model.Document, error)

	// ListDocuments returns documents newest first
	ListDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error)

	// GetDocumentInstructions returns instructions ordered by page, then insertion order
	GetDocumentInstructions(ctx context.Context, id model.DocumentID) ([]*model.Instruction, error)

	// SearchDocuments ranks documents by cosine similarity, ties broken by id
	SearchDocuments(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredDocument, error)

	// SearchInstructions ranks instructions by cosine similarity, ties broken by id
	SearchInstructions(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredInstruction, error)

	// DeleteDocument removes the document and its instructions. false when absent.
	DeleteDocument(ctx context.Context, id model.DocumentID) (bool, error)
}
