package usecase

import (
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
)

const (
	DefaultBatchConcurrency     = 1
	DefaultExtractorConcurrency = 2
)

type UseCases struct {
	repo      interfaces.Repository
	fileStore interfaces.FileStore
	extractor interfaces.Extractor
	embedder  interfaces.Embedder

	tempDir              string
	batchConcurrency     int
	extractorConcurrency int

	Pipeline *PipelineUseCase
	Document *DocumentUseCase
	Admin    *AdminUseCase
	Drive    *DriveUseCase
}

type Option func(*UseCases)

func WithFileStore(fs interfaces.FileStore) Option {
	return func(uc *UseCases) {
		uc.fileStore = fs
	}
}

func WithExtractor(ex interfaces.Extractor) Option {
	return func(uc *UseCases) {
		uc.extractor = ex
	}
}

func WithEmbedder(em interfaces.Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = em
	}
}

// WithTempDir sets the parent of per-invocation download directories. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(uc *UseCases) {
		uc.tempDir = dir
	}
}

// WithBatchConcurrency sets the worker pool size of BatchProcess. 1 processes items sequentially.
func WithBatchConcurrency(n int) Option {
	return func(uc *UseCases) {
		if n > 0 {
			uc.batchConcurrency = n
		}
	}
}

// WithExtractorConcurrency caps simultaneous extractor calls
func WithExtractorConcurrency(n int) Option {
	return func(uc *UseCases) {
		if n > 0 {
			uc.extractorConcurrency = n
		}
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:                 repo,
		batchConcurrency:     DefaultBatchConcurrency,
		extractorConcurrency: DefaultExtractorConcurrency,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Pipeline = NewPipelineUseCase(repo, uc.fileStore, uc.extractor, uc.embedder,
		uc.tempDir, uc.batchConcurrency, uc.extractorConcurrency)
	uc.Document = NewDocumentUseCase(repo, uc.embedder)
	uc.Admin = NewAdminUseCase(repo)
	uc.Drive = NewDriveUseCase(uc.fileStore)

	return uc
}
