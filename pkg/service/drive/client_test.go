package drive_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/service/drive"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	files        map[string]map[string]any
	content      map[string]string
	failuresLeft atomic.Int32
	calls        atomic.Int32
	lastQuery    atomic.Value
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		files: map[string]map[string]any{
			"f1": {"id": "f1", "name": "a-tote.pdf", "mimeType": "application/pdf", "size": "4", "modifiedTime": "2026-01-02T03:04:05Z"},
			"f2": {"id": "f2", "name": "b-apron.pdf", "mimeType": "application/pdf", "size": "4"},
			"f3": {"id": "f3", "name": "notes.txt", "mimeType": "text/plain", "size": "2"},
		},
		content: map[string]string{"f1": "%PDF-tote", "f2": "%PDF-apron"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.failuresLeft.Load() > 0 {
		f.failuresLeft.Add(-1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"code": 503, "message": "backend error"}})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "files":
		q := r.URL.Query().Get("q")
		f.lastQuery.Store(q)
		var listed []map[string]any
		for _, id := range []string{"f1", "f2", "f3"} {
			file := f.files[id]
			if strings.Contains(q, "mimeType = 'application/pdf'") && file["mimeType"] != "application/pdf" {
				continue
			}
			if strings.Contains(q, "name = ") && !strings.Contains(q, "name = '"+file["name"].(string)+"'") {
				continue
			}
			listed = append(listed, file)
		}
		// serve the first file on its own page to exercise paging
		if r.URL.Query().Get("pageToken") == "" && len(listed) > 1 {
			writeJSON(w, http.StatusOK, map[string]any{"files": listed[:1], "nextPageToken": "next"})
			return
		}
		if r.URL.Query().Get("pageToken") == "next" {
			listed = listed[1:]
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": listed})

	case strings.HasPrefix(path, "files/"):
		id := strings.TrimPrefix(path, "files/")
		file, ok := f.files[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "File not found: " + id}})
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte(f.content[id]))
			return
		}
		writeJSON(w, http.StatusOK, file)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeDrive) *drive.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := drive.New(context.Background(), "folder-1",
		drive.WithClientOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication()),
		drive.WithRetryPolicy(retry.Policy{Name: "test", MaxAttempts: 3, Retryable: retry.IsTransientIO}),
		drive.WithRateLimit(1000, 100),
	)
	gt.NoError(t, err).Required()
	return client
}

func TestNewRequiresFolder(t *testing.T) {
	_, err := drive.New(context.Background(), "")
	gt.Error(t, err).Is(model.ErrConfiguration)
}

func TestListPDFs(t *testing.T) {
	fake := newFakeDrive()
	client := newTestClient(t, fake)

	files, err := client.ListPDFs(context.Background())
	gt.NoError(t, err).Required()
	gt.Array(t, files).Length(2).Required()
	gt.Value(t, files[0].ID).Equal("f1")
	gt.Value(t, files[0].Size).Equal(int64(4))
	gt.Bool(t, files[0].ModifiedTime.IsZero()).False()
	gt.Value(t, files[1].Name).Equal("b-apron.pdf")
	gt.Bool(t, files[1].IsPDF()).True()

	q := fake.lastQuery.Load().(string)
	gt.String(t, q).Contains("'folder-1' in parents")
	gt.String(t, q).Contains("trashed = false")
}

func TestListAll(t *testing.T) {
	client := newTestClient(t, newFakeDrive())

	files, err := client.ListAll(context.Background())
	gt.NoError(t, err).Required()
	gt.Array(t, files).Length(3)

	breakdown := model.CountByMimeType(files)
	gt.Array(t, breakdown).Length(2).Required()
	gt.Value(t, breakdown[0]).Equal(model.MimeCount{MimeType: "application/pdf", Count: 2})
	gt.Value(t, breakdown[1]).Equal(model.MimeCount{MimeType: "text/plain", Count: 1})
}

func TestFindByName(t *testing.T) {
	client := newTestClient(t, newFakeDrive())
	ctx := context.Background()

	file, err := client.FindByName(ctx, "b-apron.pdf")
	gt.NoError(t, err).Required()
	gt.Value(t, file).NotNil().Required()
	gt.Value(t, file.ID).Equal("f2")

	missing, err := client.FindByName(ctx, "missing.pdf")
	gt.NoError(t, err)
	gt.Value(t, missing).Nil()

	_, err = client.FindByName(ctx, "")
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestGetFile(t *testing.T) {
	fake := newFakeDrive()
	client := newTestClient(t, fake)
	ctx := context.Background()

	file, err := client.GetFile(ctx, "f1")
	gt.NoError(t, err).Required()
	gt.Value(t, file.Name).Equal("a-tote.pdf")

	t.Run("unknown id is not found and not retried", func(t *testing.T) {
		before := fake.calls.Load()
		_, err := client.GetFile(ctx, "nope")
		gt.Error(t, err).Is(model.ErrNotFound)
		gt.Value(t, fake.calls.Load()-before).Equal(int32(1))
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		fake.failuresLeft.Store(2)
		before := fake.calls.Load()
		file, err := client.GetFile(ctx, "f2")
		gt.NoError(t, err).Required()
		gt.Value(t, file.ID).Equal("f2")
		gt.Value(t, fake.calls.Load()-before).Equal(int32(3))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		fake.failuresLeft.Store(10)
		before := fake.calls.Load()
		_, err := client.GetFile(ctx, "f2")
		gt.Error(t, err).Is(model.ErrTransientIO)
		gt.Error(t, err).Is(retry.ErrRetriesExhausted)
		gt.Value(t, fake.calls.Load()-before).Equal(int32(3))
		fake.failuresLeft.Store(0)
	})
}

func TestDownload(t *testing.T) {
	client := newTestClient(t, newFakeDrive())
	ctx := context.Background()
	dir := t.TempDir()

	path, err := client.Download(ctx, &model.FileMeta{ID: "f1", Name: "a-tote.pdf"}, dir)
	gt.NoError(t, err).Required()
	gt.Value(t, filepath.Dir(path)).Equal(dir)
	gt.String(t, filepath.Base(path)).Contains("a-tote.pdf")

	data, err := os.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.String(t, string(data)).Equal("%PDF-tote")

	_, err = client.Download(ctx, &model.FileMeta{ID: "nope", Name: "x.pdf"}, dir)
	gt.Error(t, err).Is(model.ErrNotFound)

	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	gt.Array(t, entries).Length(1)
}
