package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

type DriveUseCase struct {
	fileStore interfaces.FileStore
}

func NewDriveUseCase(fileStore interfaces.FileStore) *DriveUseCase {
	return &DriveUseCase{fileStore: fileStore}
}

// DriveListing is the PDF listing of the folder. Breakdown is set only when no PDF was found.
type DriveListing struct {
	Files     []*model.FileMeta `json:"files"`
	Count     int               `json:"count"`
	Breakdown []model.MimeCount `json:"breakdown,omitempty"`
}

func (uc *DriveUseCase) ListFiles(ctx context.Context) (*DriveListing, error) {
	if uc.fileStore == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "file store is not configured")
	}

	files, err := uc.fileStore.ListPDFs(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list PDFs")
	}
	listing := &DriveListing{Files: files, Count: len(files)}
	if listing.Files == nil {
		listing.Files = []*model.FileMeta{}
	}
	if len(files) > 0 {
		return listing, nil
	}

	all, err := uc.fileStore.ListAll(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to list all files for breakdown", "error", err)
		return listing, nil
	}
	listing.Breakdown = model.CountByMimeType(all)
	logging.From(ctx).Info("no PDF found in folder",
		"total_files", len(all),
		"breakdown", listing.Breakdown)
	return listing, nil
}
