package interfaces

import (
	"context"

	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// FileStore lists and fetches files of one remote folder
type FileStore interface {
	// ListPDFs returns the PDF files of the folder ordered by name
	ListPDFs(ctx context.Context) ([]*model.FileMeta, error)

	// ListAll returns every file of the folder regardless of type
	ListAll(ctx context.Context) ([]*model.FileMeta, error)

	// GetFile returns metadata by id. Unknown ids fail with model.ErrNotFound.
	GetFile(ctx context.Context, id string) (*model.FileMeta, error)

	// FindByName looks up a file of the folder by name. nil without error when absent.
	FindByName(ctx context.Context, name string) (*model.FileMeta, error)

	// Download writes the file into dir and returns the local path
	Download(ctx context.Context, file *model.FileMeta, dir string) (string, error)
}
