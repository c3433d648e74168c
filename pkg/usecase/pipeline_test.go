package usecase_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/repository/memory"
	"github.com/secmon-lab/tapestry/pkg/usecase"
)

type pipelineFixture struct {
	repo      *memory.Memory
	fileStore *mockFileStore
	extractor *mockExtractor
	embedder  *mockEmbedder
	tempDir   string
}

func newPipelineFixture(t *testing.T, names ...string) *pipelineFixture {
	t.Helper()
	return &pipelineFixture{
		repo:      memory.New(),
		fileStore: newMockFileStore(names...),
		extractor: &mockExtractor{},
		embedder:  &mockEmbedder{},
		tempDir:   t.TempDir(),
	}
}

func (f *pipelineFixture) useCases(opts ...usecase.Option) *usecase.UseCases {
	base := []usecase.Option{
		usecase.WithFileStore(f.fileStore),
		usecase.WithExtractor(f.extractor),
		usecase.WithEmbedder(f.embedder),
		usecase.WithTempDir(f.tempDir),
	}
	return usecase.New(f.repo, append(base, opts...)...)
}

// assertTempClean checks that no per-invocation download dir survived
func (f *pipelineFixture) assertTempClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(0)
	for _, dir := range f.fileStore.dirs() {
		_, err := os.Stat(dir)
		gt.Bool(t, errors.Is(err, os.ErrNotExist)).True()
	}
}

func TestPipeline_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("by filename stores document and instructions", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		uc := f.useCases()

		result, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.NoError(t, err).Required()
		gt.Bool(t, result.AlreadyExisted).False()
		gt.Value(t, result.Stage).Equal(usecase.StageDone)
		gt.Value(t, result.Document.Filename).Equal("tote.pdf")
		gt.Value(t, result.Document.Title).Equal("tote.pdf")
		gt.Bool(t, result.Document.CreatedAt.IsZero()).False()

		instructions, err := f.repo.Document().GetDocumentInstructions(ctx, result.Document.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, instructions).Length(2)

		gt.Number(t, f.embedder.calls.Load()).Equal(1)
		f.assertTempClean(t)
	})

	t.Run("by file id stores document", func(t *testing.T) {
		f := newPipelineFixture(t, "shirt.pdf")
		uc := f.useCases()

		result, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{FileID: "file-1"})
		gt.NoError(t, err).Required()
		gt.Value(t, result.Document.Filename).Equal("shirt.pdf")
		gt.Number(t, f.fileStore.getFileCalls.Load()).Equal(1)
		gt.Number(t, f.fileStore.findByNameCalls.Load()).Equal(0)
		f.assertTempClean(t)
	})

	t.Run("second run by filename is idempotent without remote calls", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		uc := f.useCases()

		first, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.NoError(t, err).Required()

		second, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.NoError(t, err).Required()
		gt.Bool(t, second.AlreadyExisted).True()
		gt.Value(t, second.Stage).Equal(usecase.StageDedupCheck)
		gt.Value(t, second.Document.ID).Equal(first.Document.ID)

		gt.Number(t, f.fileStore.findByNameCalls.Load()).Equal(1)
		gt.Number(t, f.fileStore.downloadCalls.Load()).Equal(1)
		gt.Number(t, f.extractor.calls.Load()).Equal(1)

		docs, err := f.repo.Document().ListDocuments(ctx, 10, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, docs).Length(1)
	})

	t.Run("second run by file id skips extraction", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		uc := f.useCases()

		first, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{FileID: "file-1"})
		gt.NoError(t, err).Required()
		second, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{FileID: "file-1"})
		gt.NoError(t, err).Required()

		gt.Bool(t, second.AlreadyExisted).True()
		gt.Value(t, second.Document.ID).Equal(first.Document.ID)
		gt.Number(t, f.extractor.calls.Load()).Equal(1)
		gt.Number(t, f.fileStore.downloadCalls.Load()).Equal(1)
	})

	t.Run("instructions are ordered by page then step order", func(t *testing.T) {
		f := newPipelineFixture(t, "coat.pdf")
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			return newRecord("coat", 2, 1, 1, 3), nil
		}
		uc := f.useCases()

		result, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "coat.pdf"})
		gt.NoError(t, err).Required()

		detail, err := uc.Document.Get(ctx, result.Document.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, detail.Instructions).Length(4).Required()

		var pages []int
		var headers []string
		for _, ins := range detail.Instructions {
			pages = append(pages, ins.Page)
			headers = append(headers, ins.Header)
		}
		gt.Value(t, pages).Equal([]int{1, 1, 2, 3})
		gt.Value(t, headers).Equal([]string{"step-1", "step-2", "step-0", "step-3"})
	})

	t.Run("unknown filename is not found", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "missing.pdf"})
		gt.Error(t, err).Is(model.ErrNotFound)
		gt.Number(t, f.fileStore.downloadCalls.Load()).Equal(0)
	})

	t.Run("unknown file id is not found", func(t *testing.T) {
		f := newPipelineFixture(t)
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{FileID: "nope"})
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("stage is attached to errors", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "missing.pdf"})
		gt.Value(t, err).NotNil().Required()
		goErr := goerr.Unwrap(err)
		gt.Value(t, goErr).NotNil().Required()
		gt.Value(t, goErr.Values()[usecase.StageKey]).Equal(string(usecase.StageResolve))
	})

	t.Run("non PDF file is rejected", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.fileStore.add("doc-1", "notes.txt", "text/plain")
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{FileID: "doc-1"})
		gt.Error(t, err).Is(model.ErrValidation)
		gt.Number(t, f.fileStore.downloadCalls.Load()).Equal(0)
	})

	t.Run("empty input is rejected", func(t *testing.T) {
		f := newPipelineFixture(t)
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{})
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("missing backends fail as configuration error", func(t *testing.T) {
		uc := usecase.New(memory.New())

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "a.pdf"})
		gt.Error(t, err).Is(model.ErrConfiguration)
	})

	t.Run("download failure cleans temp dir", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		f.fileStore.downloadFn = func(ctx context.Context, file *model.FileMeta, dir string) (string, error) {
			gt.NoError(t, os.WriteFile(dir+"/partial", []byte("x"), 0o600)).Required()
			return "", goerr.Wrap(model.ErrTransientIO, "connection reset")
		}
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.Error(t, err).Is(model.ErrTransientIO)
		gt.Number(t, f.extractor.calls.Load()).Equal(0)
		f.assertTempClean(t)
	})

	t.Run("extractor failure stores nothing and cleans temp dir", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			return nil, goerr.Wrap(model.ErrValidation, "bad payload")
		}
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.Error(t, err).Is(model.ErrValidation)

		existing, err := f.repo.Document().GetDocumentByFilename(ctx, "tote.pdf")
		gt.NoError(t, err).Required()
		gt.Value(t, existing).Nil()
		gt.Number(t, f.embedder.calls.Load()).Equal(0)
		f.assertTempClean(t)
	})

	t.Run("invalid extracted record is rejected", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			return newRecord("tote", 1, 0), nil
		}
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("storage failure after some instructions leaves nothing", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		f.repo = memory.New(memory.WithInstructionFault(2))
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			return newRecord("tote", 1, 2, 3, 4, 5), nil
		}
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.Error(t, err).Is(model.ErrStorageIntegrity)

		docs, err := f.repo.Document().ListDocuments(ctx, 10, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, docs).Length(0)
		f.assertTempClean(t)
	})

	t.Run("concurrent winner is returned as already existing", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		var winner model.DocumentID
		f.embedder.embedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
			// Another worker stores the same filename while this one embeds
			doc := newRecord("winner", 1).NewDocument("tote.pdf")
			doc.Embedding = textVector("winner")
			id, err := f.repo.Document().StoreDocument(ctx, doc, nil)
			gt.NoError(t, err).Required()
			winner = id
			return embedTexts(texts), nil
		}
		uc := f.useCases()

		result, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.NoError(t, err).Required()
		gt.Bool(t, result.AlreadyExisted).True()
		gt.Value(t, result.Document.ID).Equal(winner)
		gt.Value(t, result.Document.Title).Equal("winner")
	})

	t.Run("embedding count mismatch is a validation error", func(t *testing.T) {
		f := newPipelineFixture(t, "tote.pdf")
		f.embedder.embedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
			return embedTexts(texts[:1]), nil
		}
		uc := f.useCases()

		_, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "tote.pdf"})
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("extractor concurrency is capped", func(t *testing.T) {
		names := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf", "f.pdf"}
		f := newPipelineFixture(t, names...)

		var mu sync.Mutex
		var running, peak int
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return newRecord(string(pdf), 1), nil
		}
		uc := f.useCases(usecase.WithBatchConcurrency(6), usecase.WithExtractorConcurrency(2))

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{Filenames: names})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(len(names))
		gt.Bool(t, peak <= 2).True()
		gt.Number(t, peak).GreaterOrEqual(1)
	})
}

func TestPipeline_BatchProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("one failing item does not stop others", func(t *testing.T) {
		f := newPipelineFixture(t, "a.pdf", "b.pdf", "c.pdf")
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			if string(pdf) == "b.pdf" {
				return nil, goerr.Wrap(model.ErrTransientIO, "upstream timeout")
			}
			return newRecord(string(pdf), 1), nil
		}
		uc := f.useCases()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{
			Filenames: []string{"a.pdf", "b.pdf", "c.pdf"},
		})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(2)
		gt.Array(t, result.Skipped).Length(0)
		gt.Array(t, result.Errors).Length(1).Required()
		gt.Value(t, result.Errors[0].Ref).Equal("b.pdf")
		gt.Value(t, result.Errors[0].Filename).Equal("b.pdf")
		gt.Error(t, result.Errors[0].Err).Is(model.ErrTransientIO)

		a, err := f.repo.Document().GetDocumentByFilename(ctx, "a.pdf")
		gt.NoError(t, err).Required()
		c, err := f.repo.Document().GetDocumentByFilename(ctx, "c.pdf")
		gt.NoError(t, err).Required()
		gt.Value(t, result.Succeeded).Equal([]model.DocumentID{a.ID, c.ID})
	})

	t.Run("already stored items are skipped", func(t *testing.T) {
		f := newPipelineFixture(t, "a.pdf", "b.pdf")
		uc := f.useCases()

		first, err := uc.Pipeline.Process(ctx, usecase.ProcessInput{Filename: "a.pdf"})
		gt.NoError(t, err).Required()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{Filenames: []string{"a.pdf", "b.pdf"}})
		gt.NoError(t, err).Required()
		gt.Value(t, result.Skipped).Equal([]model.DocumentID{first.Document.ID})
		gt.Array(t, result.Succeeded).Length(1)
		gt.Array(t, result.Errors).Length(0)
	})

	t.Run("empty input processes every PDF of the folder", func(t *testing.T) {
		f := newPipelineFixture(t, "a.pdf", "b.pdf")
		f.fileStore.add("txt-1", "readme.txt", "text/plain")
		uc := f.useCases()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(2)
		gt.Array(t, result.Errors).Length(0)
		gt.Number(t, f.fileStore.getFileCalls.Load()).Equal(2)
	})

	t.Run("empty folder gives empty result", func(t *testing.T) {
		f := newPipelineFixture(t)
		uc := f.useCases()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(0)
		gt.Array(t, result.Errors).Length(0)
	})

	t.Run("listing failure fails the batch", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.fileStore.listPDFsFn = func(ctx context.Context) ([]*model.FileMeta, error) {
			return nil, goerr.Wrap(model.ErrTransientIO, "drive unavailable")
		}
		uc := f.useCases()

		_, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{})
		gt.Error(t, err).Is(model.ErrTransientIO)
	})

	t.Run("errors keep input order under concurrency", func(t *testing.T) {
		names := []string{"a.pdf", "bad-1.pdf", "c.pdf", "bad-2.pdf", "e.pdf"}
		f := newPipelineFixture(t, names...)
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			if strings.HasPrefix(string(pdf), "bad") {
				return nil, goerr.Wrap(model.ErrValidation, "unreadable")
			}
			return newRecord(string(pdf), 1), nil
		}
		uc := f.useCases(usecase.WithBatchConcurrency(3))

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{Filenames: names})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(3)
		gt.Array(t, result.Errors).Length(2).Required()
		gt.Value(t, result.Errors[0].Ref).Equal("bad-1.pdf")
		gt.Value(t, result.Errors[1].Ref).Equal("bad-2.pdf")
	})

	t.Run("panicking item is reported as error", func(t *testing.T) {
		f := newPipelineFixture(t, "a.pdf", "boom.pdf")
		f.extractor.extractFn = func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
			if string(pdf) == "boom.pdf" {
				panic("extractor exploded")
			}
			return newRecord(string(pdf), 1), nil
		}
		uc := f.useCases()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{Filenames: []string{"a.pdf", "boom.pdf"}})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(1)
		gt.Array(t, result.Errors).Length(1).Required()
		gt.Error(t, result.Errors[0].Err).Is(usecase.ErrItemPanicked)
		f.assertTempClean(t)
	})

	t.Run("mixed ids and names", func(t *testing.T) {
		f := newPipelineFixture(t, "a.pdf", "b.pdf")
		uc := f.useCases()

		result, err := uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{
			FileIDs:   []string{"file-1", "missing-id"},
			Filenames: []string{"b.pdf"},
		})
		gt.NoError(t, err).Required()
		gt.Array(t, result.Succeeded).Length(2)
		gt.Array(t, result.Errors).Length(1).Required()
		gt.Value(t, result.Errors[0].FileID).Equal("missing-id")
		gt.Error(t, result.Errors[0].Err).Is(model.ErrNotFound)
	})
}
