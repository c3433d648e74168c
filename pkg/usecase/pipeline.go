package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/safe"
	"golang.org/x/sync/semaphore"
)

// Stage is the furthest pipeline step a Process call reached
type Stage string

const (
	StageResolve    Stage = "RESOLVE"
	StageDedupCheck Stage = "DEDUP_CHECK"
	StageFetch      Stage = "FETCH"
	StageExtract    Stage = "EXTRACT"
	StagePersist    Stage = "PERSIST"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// ProcessInput names one file by id or by name. FileID wins when both are set.
type ProcessInput struct {
	FileID   string
	Filename string
}

func (in ProcessInput) validate() error {
	if strings.TrimSpace(in.FileID) == "" && strings.TrimSpace(in.Filename) == "" {
		return goerr.Wrap(model.ErrValidation, "either file id or filename is required")
	}
	return nil
}

// ref is how the item is referred to in logs and batch results
func (in ProcessInput) ref() string {
	if in.FileID != "" {
		return in.FileID
	}
	return in.Filename
}

// ProcessResult is the outcome of a successful Process call
type ProcessResult struct {
	Document       *model.Document `json:"document"`
	AlreadyExisted bool            `json:"already_existed"`
	Stage          Stage           `json:"stage"`
}

// BatchInput lists files to process. Both empty means every PDF of the folder.
type BatchInput struct {
	FileIDs   []string
	Filenames []string
}

// BatchError is one failed batch item
type BatchError struct {
	Ref      string `json:"ref"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Err      error  `json:"-"`
}

// BatchResult keeps input order in every list
type BatchResult struct {
	Succeeded []model.DocumentID `json:"succeeded"`
	Skipped   []model.DocumentID `json:"skipped"`
	Errors    []BatchError       `json:"errors"`
}

type PipelineUseCase struct {
	repo      interfaces.Repository
	fileStore interfaces.FileStore
	extractor interfaces.Extractor
	embedder  interfaces.Embedder

	tempDir          string
	batchConcurrency int
	extractSem       *semaphore.Weighted
}

func NewPipelineUseCase(
	repo interfaces.Repository,
	fileStore interfaces.FileStore,
	extractor interfaces.Extractor,
	embedder interfaces.Embedder,
	tempDir string,
	batchConcurrency, extractorConcurrency int,
) *PipelineUseCase {
	if batchConcurrency < 1 {
		batchConcurrency = DefaultBatchConcurrency
	}
	if extractorConcurrency < 1 {
		extractorConcurrency = DefaultExtractorConcurrency
	}
	return &PipelineUseCase{
		repo:             repo,
		fileStore:        fileStore,
		extractor:        extractor,
		embedder:         embedder,
		tempDir:          tempDir,
		batchConcurrency: batchConcurrency,
		extractSem:       semaphore.NewWeighted(int64(extractorConcurrency)),
	}
}

func (uc *PipelineUseCase) configured() error {
	switch {
	case uc.repo == nil:
		return goerr.Wrap(model.ErrConfiguration, "repository is not configured")
	case uc.fileStore == nil:
		return goerr.Wrap(model.ErrConfiguration, "file store is not configured")
	case uc.extractor == nil:
		return goerr.Wrap(model.ErrConfiguration, "extractor is not configured")
	case uc.embedder == nil:
		return goerr.Wrap(model.ErrConfiguration, "embedder is not configured")
	}
	return nil
}

// Process ingests one PDF. A file whose name is already stored is returned as is with AlreadyExisted.
func (uc *PipelineUseCase) Process(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := uc.configured(); err != nil {
		return nil, err
	}

	logger := logging.From(ctx).With(slogRef(in)...)
	ctx = logging.With(ctx, logger)

	result, stage, err := uc.process(ctx, in)
	if err != nil {
		logger.Warn("pipeline failed", "stage", stage, "error", err)
		return nil, goerr.Wrap(err, "failed to process file",
			goerr.V(StageKey, string(stage)),
			goerr.V(model.FileIDKey, in.FileID),
			goerr.V(model.FilenameKey, in.Filename))
	}

	logger.Info("pipeline finished",
		"document_id", result.Document.ID,
		"already_existed", result.AlreadyExisted,
		"stage", result.Stage)
	return result, nil
}

func (uc *PipelineUseCase) process(ctx context.Context, in ProcessInput) (*ProcessResult, Stage, error) {
	file, existing, stage, err := uc.resolve(ctx, in)
	if err != nil {
		return nil, stage, err
	}
	if existing != nil {
		return &ProcessResult{Document: existing, AlreadyExisted: true, Stage: StageDedupCheck}, StageDedupCheck, nil
	}

	if !file.IsPDF() {
		return nil, StageResolve, goerr.Wrap(model.ErrValidation, "file is not a PDF",
			goerr.V("mime_type", file.MimeType))
	}

	data, err := uc.fetch(ctx, file)
	if err != nil {
		return nil, StageFetch, err
	}

	record, err := uc.extract(ctx, data)
	if err != nil {
		return nil, StageExtract, err
	}

	result, err := uc.persist(ctx, file.Name, record)
	if err != nil {
		return nil, StagePersist, err
	}
	return result, result.Stage, nil
}

// resolve returns either the remote file to ingest or the already stored document
func (uc *PipelineUseCase) resolve(ctx context.Context, in ProcessInput) (*model.FileMeta, *model.Document, Stage, error) {
	docs := uc.repo.Document()

	if in.FileID == "" {
		// Dedup before any remote call
		existing, err := docs.GetDocumentByFilename(ctx, in.Filename)
		if err != nil {
			return nil, nil, StageDedupCheck, goerr.Wrap(err, "failed to check stored filename")
		}
		if existing != nil {
			logging.From(ctx).Info("document already stored", "document_id", existing.ID)
			return nil, existing, StageDedupCheck, nil
		}

		file, err := uc.fileStore.FindByName(ctx, in.Filename)
		if err != nil {
			return nil, nil, StageResolve, goerr.Wrap(err, "failed to find file by name")
		}
		if file == nil {
			return nil, nil, StageResolve, goerr.Wrap(model.ErrNotFound, "file not found in folder")
		}
		return file, nil, StageResolve, nil
	}

	file, err := uc.fileStore.GetFile(ctx, in.FileID)
	if err != nil {
		return nil, nil, StageResolve, goerr.Wrap(err, "failed to get file")
	}

	existing, err := docs.GetDocumentByFilename(ctx, file.Name)
	if err != nil {
		return nil, nil, StageDedupCheck, goerr.Wrap(err, "failed to check stored filename")
	}
	if existing != nil {
		logging.From(ctx).Info("document already stored", "document_id", existing.ID)
		return nil, existing, StageDedupCheck, nil
	}
	return file, nil, StageDedupCheck, nil
}

func (uc *PipelineUseCase) fetch(ctx context.Context, file *model.FileMeta) ([]byte, error) {
	dir, err := os.MkdirTemp(uc.tempDir, "tapestry-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp dir")
	}
	defer safe.RemoveAll(ctx, dir)

	path, err := uc.fileStore.Download(ctx, file, dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download file")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is inside our temp dir
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read downloaded file", goerr.V("path", path))
	}
	return data, nil
}

func (uc *PipelineUseCase) extract(ctx context.Context, data []byte) (*model.StructuredRecord, error) {
	if err := uc.extractSem.Acquire(ctx, 1); err != nil {
		return nil, goerr.Wrap(err, "failed to wait for extractor slot")
	}
	defer uc.extractSem.Release(1)

	record, err := uc.extractor.Extract(ctx, data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to extract record")
	}
	if err := record.Validate(); err != nil {
		return nil, goerr.Wrap(err, "extracted record is invalid")
	}
	return record, nil
}

func (uc *PipelineUseCase) persist(ctx context.Context, filename string, record *model.StructuredRecord) (*ProcessResult, error) {
	doc := record.NewDocument(filename)
	instructions := record.NewInstructions(doc.ID)

	texts := make([]string, 0, len(instructions)+1)
	texts = append(texts, doc.EmbeddingText())
	for _, ins := range instructions {
		texts = append(texts, ins.EmbeddingText())
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed record")
	}
	if len(vectors) != len(texts) {
		return nil, goerr.Wrap(model.ErrValidation, "embedding count mismatch",
			goerr.V("expected", len(texts)), goerr.V("actual", len(vectors)))
	}
	doc.Embedding = vectors[0]
	for i, ins := range instructions {
		ins.Embedding = vectors[i+1]
	}

	docs := uc.repo.Document()
	id, err := docs.StoreDocument(ctx, doc, instructions)
	if errors.Is(err, model.ErrAlreadyExists) {
		// Another worker stored the same filename first
		existing, getErr := docs.GetDocumentByFilename(ctx, filename)
		if getErr != nil {
			return nil, goerr.Wrap(getErr, "failed to get concurrently stored document")
		}
		if existing == nil {
			return nil, goerr.Wrap(model.ErrStorageIntegrity, "stored document vanished after conflict")
		}
		return &ProcessResult{Document: existing, AlreadyExisted: true, Stage: StageDone}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store document")
	}

	stored, err := docs.GetDocument(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get stored document", goerr.V(model.DocumentIDKey, id))
	}
	if stored == nil {
		return nil, goerr.Wrap(model.ErrStorageIntegrity, "stored document vanished", goerr.V(model.DocumentIDKey, id))
	}
	return &ProcessResult{Document: stored, Stage: StageDone}, nil
}

// BatchProcess runs Process for every item. A failing item never stops the others.
func (uc *PipelineUseCase) BatchProcess(ctx context.Context, in BatchInput) (*BatchResult, error) {
	if err := uc.configured(); err != nil {
		return nil, err
	}

	items, err := uc.batchItems(ctx, in)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Succeeded: []model.DocumentID{},
		Skipped:   []model.DocumentID{},
		Errors:    []BatchError{},
	}
	if len(items) == 0 {
		return result, nil
	}

	pool, err := ants.NewPool(uc.batchConcurrency)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create worker pool")
	}
	defer pool.Release()

	type outcome struct {
		result *ProcessResult
		err    error
	}
	outcomes := make([]outcome, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			res, err := uc.processItem(ctx, item)
			outcomes[i] = outcome{result: res, err: err}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = outcome{err: goerr.Wrap(err, "failed to schedule batch item")}
		}
	}
	wg.Wait()

	for i, o := range outcomes {
		switch {
		case o.err != nil:
			result.Errors = append(result.Errors, BatchError{
				Ref:      items[i].ref(),
				FileID:   items[i].FileID,
				Filename: items[i].Filename,
				Err:      o.err,
			})
		case o.result.AlreadyExisted:
			result.Skipped = append(result.Skipped, o.result.Document.ID)
		default:
			result.Succeeded = append(result.Succeeded, o.result.Document.ID)
		}
	}

	logging.From(ctx).Info("batch finished",
		"items", len(items),
		"succeeded", len(result.Succeeded),
		"skipped", len(result.Skipped),
		"failed", len(result.Errors))
	return result, nil
}

func (uc *PipelineUseCase) processItem(ctx context.Context, item ProcessInput) (res *ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = goerr.Wrap(ErrItemPanicked, fmt.Sprint(r), goerr.V("ref", item.ref()))
		}
	}()
	return uc.Process(ctx, item)
}

func (uc *PipelineUseCase) batchItems(ctx context.Context, in BatchInput) ([]ProcessInput, error) {
	if len(in.FileIDs) == 0 && len(in.Filenames) == 0 {
		files, err := uc.fileStore.ListPDFs(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list PDFs")
		}
		items := make([]ProcessInput, 0, len(files))
		for _, f := range files {
			items = append(items, ProcessInput{FileID: f.ID, Filename: f.Name})
		}
		return items, nil
	}

	items := make([]ProcessInput, 0, len(in.FileIDs)+len(in.Filenames))
	for _, id := range in.FileIDs {
		items = append(items, ProcessInput{FileID: id})
	}
	for _, name := range in.Filenames {
		items = append(items, ProcessInput{Filename: name})
	}
	return items, nil
}

func slogRef(in ProcessInput) []any {
	if in.FileID != "" {
		return []any{"file_id", in.FileID}
	}
	return []any{"filename", in.Filename}
}
