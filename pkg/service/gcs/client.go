package gcs

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"github.com/secmon-lab/tapestry/pkg/utils/safe"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client is a FileStore over one Cloud Storage bucket prefix. File IDs are object names.
type Client struct {
	client *storage.Client
	bucket string
	prefix string
	policy retry.Policy
}

var _ interfaces.FileStore = &Client{}

// Option configures Client
type Option func(*config)

type config struct {
	clientOptions []option.ClientOption
	policy        retry.Policy
}

// WithClientOptions passes options to the storage client
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) { c.clientOptions = append(c.clientOptions, opts...) }
}

// WithRetryPolicy replaces the retry policy of every call
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *config) { c.policy = p }
}

// New creates a Cloud Storage client for bucket. prefix acts as the folder.
func New(ctx context.Context, bucket, prefix string, opts ...Option) (*Client, error) {
	if bucket == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "storage bucket is required")
	}

	cfg := config{policy: retry.FileStorePolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := storage.NewClient(ctx, cfg.clientOptions...)
	if err != nil {
		return nil, goerr.Wrap(model.Tag(model.ErrConfiguration, err), "failed to create storage client")
	}

	return &Client{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
		policy: cfg.policy,
	}, nil
}

// Close releases the storage client
func (c *Client) Close() error {
	return c.client.Close()
}

// ListPDFs implements interfaces.FileStore
func (c *Client) ListPDFs(ctx context.Context) ([]*model.FileMeta, error) {
	all, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]*model.FileMeta, 0, len(all))
	for _, f := range all {
		if f.IsPDF() {
			files = append(files, f)
		}
	}
	logging.From(ctx).Info("listed PDF objects", "bucket", c.bucket, "prefix", c.prefix, "count", len(files))
	return files, nil
}

// ListAll implements interfaces.FileStore
func (c *Client) ListAll(ctx context.Context) ([]*model.FileMeta, error) {
	files, err := retry.Value(ctx, c.policy, func(ctx context.Context) ([]*model.FileMeta, error) {
		var files []*model.FileMeta
		it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: c.prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, classify(err)
			}
			// sub folders show up as prefix only entries
			if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
				continue
			}
			files = append(files, ToFileMeta(attrs))
		}
		return files, nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list objects", goerr.V("bucket", c.bucket), goerr.V("prefix", c.prefix))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	if files == nil {
		files = []*model.FileMeta{}
	}
	return files, nil
}

// GetFile implements interfaces.FileStore
func (c *Client) GetFile(ctx context.Context, id string) (*model.FileMeta, error) {
	if id == "" {
		return nil, goerr.Wrap(model.ErrValidation, "object name is required")
	}

	attrs, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*storage.ObjectAttrs, error) {
		attrs, err := c.client.Bucket(c.bucket).Object(id).Attrs(ctx)
		if err != nil {
			return nil, classify(err)
		}
		return attrs, nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get object", goerr.V(model.FileIDKey, id))
	}
	return ToFileMeta(attrs), nil
}

// FindByName implements interfaces.FileStore
func (c *Client) FindByName(ctx context.Context, name string) (*model.FileMeta, error) {
	if name == "" {
		return nil, goerr.Wrap(model.ErrValidation, "filename is required")
	}

	file, err := c.GetFile(ctx, c.prefix+name)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Download implements interfaces.FileStore
func (c *Client) Download(ctx context.Context, file *model.FileMeta, dir string) (string, error) {
	if file == nil || file.ID == "" {
		return "", goerr.Wrap(model.ErrValidation, "object to download is required")
	}

	p, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		r, err := c.client.Bucket(c.bucket).Object(file.ID).NewReader(ctx)
		if err != nil {
			return "", classify(err)
		}
		defer safe.Close(ctx, r)

		p, err := safe.WriteTemp(ctx, dir, file.Name, r)
		if err != nil {
			return "", classify(err)
		}
		return p, nil
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to download object",
			goerr.V("bucket", c.bucket), goerr.V(model.FileIDKey, file.ID))
	}
	return p, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return goerr.Wrap(model.Tag(model.ErrNotFound, err), "object not found")
	case retry.IsTransientIO(err):
		return goerr.Wrap(model.Tag(model.ErrTransientIO, err), "storage request failed")
	}
	return err
}

// ToFileMeta converts object attributes. Name is the object base name.
func ToFileMeta(attrs *storage.ObjectAttrs) *model.FileMeta {
	mime := attrs.ContentType
	if mime == "" && strings.EqualFold(path.Ext(attrs.Name), ".pdf") {
		mime = model.PDFMimeType
	}
	return &model.FileMeta{
		ID:           attrs.Name,
		Name:         path.Base(attrs.Name),
		MimeType:     mime,
		Size:         attrs.Size,
		ModifiedTime: attrs.Updated,
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
