package usecase_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// mockFileStore serves files from memory. Fn fields override the default behavior.
type mockFileStore struct {
	mu    sync.Mutex
	files []*model.FileMeta

	listPDFsFn   func(ctx context.Context) ([]*model.FileMeta, error)
	getFileFn    func(ctx context.Context, id string) (*model.FileMeta, error)
	findByNameFn func(ctx context.Context, name string) (*model.FileMeta, error)
	downloadFn   func(ctx context.Context, file *model.FileMeta, dir string) (string, error)

	getFileCalls    atomic.Int64
	findByNameCalls atomic.Int64
	downloadCalls   atomic.Int64

	downloadDirs []string
}

var _ interfaces.FileStore = &mockFileStore{}

func newMockFileStore(names ...string) *mockFileStore {
	fs := &mockFileStore{}
	for i, name := range names {
		fs.add(fmt.Sprintf("file-%d", i+1), name, model.PDFMimeType)
	}
	return fs
}

func (m *mockFileStore) add(id, name, mime string) {
	m.files = append(m.files, &model.FileMeta{ID: id, Name: name, MimeType: mime, Size: int64(len(name))})
}

func (m *mockFileStore) ListPDFs(ctx context.Context) ([]*model.FileMeta, error) {
	if m.listPDFsFn != nil {
		return m.listPDFsFn(ctx)
	}
	var result []*model.FileMeta
	for _, f := range m.files {
		if f.IsPDF() {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockFileStore) ListAll(ctx context.Context) ([]*model.FileMeta, error) {
	return m.files, nil
}

func (m *mockFileStore) GetFile(ctx context.Context, id string) (*model.FileMeta, error) {
	m.getFileCalls.Add(1)
	if m.getFileFn != nil {
		return m.getFileFn(ctx, id)
	}
	for _, f := range m.files {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, goerr.Wrap(model.ErrNotFound, "no such file", goerr.V("id", id))
}

func (m *mockFileStore) FindByName(ctx context.Context, name string) (*model.FileMeta, error) {
	m.findByNameCalls.Add(1)
	if m.findByNameFn != nil {
		return m.findByNameFn(ctx, name)
	}
	for _, f := range m.files {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, nil
}

// Download writes the file name as content so the extractor mock can tell files apart
func (m *mockFileStore) Download(ctx context.Context, file *model.FileMeta, dir string) (string, error) {
	m.downloadCalls.Add(1)
	m.mu.Lock()
	m.downloadDirs = append(m.downloadDirs, dir)
	m.mu.Unlock()

	if m.downloadFn != nil {
		return m.downloadFn(ctx, file, dir)
	}
	path := filepath.Join(dir, file.Name)
	if err := os.WriteFile(path, []byte(file.Name), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (m *mockFileStore) dirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.downloadDirs...)
}

type mockExtractor struct {
	extractFn func(ctx context.Context, pdf []byte) (*model.StructuredRecord, error)
	calls     atomic.Int64
}

var _ interfaces.Extractor = &mockExtractor{}

func (m *mockExtractor) Extract(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
	m.calls.Add(1)
	if m.extractFn != nil {
		return m.extractFn(ctx, pdf)
	}
	return newRecord(string(pdf), 1, 2), nil
}

// mockEmbedder derives a stable vector from each text
type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
	calls   atomic.Int64
}

var _ interfaces.Embedder = &mockEmbedder{}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	return embedTexts(texts), nil
}

func embedTexts(texts []string) [][]float32 {
	result := make([][]float32, 0, len(texts))
	for _, text := range texts {
		result = append(result, textVector(text))
	}
	return result
}

func textVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	r := rand.New(rand.NewPCG(h.Sum64(), 42))
	v := make([]float32, model.EmbeddingDimension)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func newRecord(title string, pages ...int) *model.StructuredRecord {
	steps := make([]model.Step, 0, len(pages))
	for i, page := range pages {
		steps = append(steps, model.Step{
			Page:        page,
			Header:      fmt.Sprintf("step-%d", i),
			Instruction: fmt.Sprintf("%s: sew seam %d", title, i),
			Box2D:       []int{0, 0, 100, 100},
		})
	}
	return &model.StructuredRecord{
		Title:          title,
		Brief:          "brief of " + title,
		Specifications: "cotton",
		Steps:          steps,
	}
}

// failingRepository is a Repository whose reconnect always fails
type failingRepository struct {
	interfaces.Repository
}

func (r *failingRepository) Reconnect(ctx context.Context) error {
	return goerr.Wrap(model.ErrTransientConnection, "connection refused")
}

func (r *failingRepository) HealthCheck(ctx context.Context) bool {
	return false
}
