package drive

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"github.com/secmon-lab/tapestry/pkg/utils/safe"
	"golang.org/x/time/rate"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	fileFields = "id, name, mimeType, size, modifiedTime"
	listFields = googleapi.Field("nextPageToken, files(" + fileFields + ")")
	pageSize   = 100

	// Drive allows roughly 10 requests per second per user
	defaultRPS   = 8
	defaultBurst = 10
)

// Client is a FileStore over one Google Drive folder
type Client struct {
	api          *drivev3.Service
	folderID     string
	sharedDrives bool
	limiter      *rate.Limiter
	policy       retry.Policy
}

var _ interfaces.FileStore = &Client{}

// Option configures Client
type Option func(*config)

type config struct {
	clientOptions []option.ClientOption
	sharedDrives  bool
	policy        retry.Policy
	rps           float64
	burst         int
}

// WithClientOptions passes options to the Drive API client, e.g. credentials or endpoint
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) { c.clientOptions = append(c.clientOptions, opts...) }
}

// WithSharedDrives includes items of shared drives
func WithSharedDrives(enabled bool) Option {
	return func(c *config) { c.sharedDrives = enabled }
}

// WithRetryPolicy replaces the retry policy of every call
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithRateLimit sets the request rate against the Drive API
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		c.burst = burst
	}
}

// New creates a Drive client. Credentials come from the client options or application default credentials.
func New(ctx context.Context, folderID string, opts ...Option) (*Client, error) {
	if folderID == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "drive folder ID is required")
	}

	cfg := config{
		policy: retry.FileStorePolicy(),
		rps:    defaultRPS,
		burst:  defaultBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := append([]option.ClientOption{option.WithScopes(drivev3.DriveReadonlyScope)}, cfg.clientOptions...)
	api, err := drivev3.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(model.Tag(model.ErrConfiguration, err), "failed to create drive service")
	}

	return &Client{
		api:          api,
		folderID:     folderID,
		sharedDrives: cfg.sharedDrives,
		limiter:      rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst),
		policy:       cfg.policy,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return goerr.Wrap(err, "rate limiter wait interrupted")
	}
	return nil
}

// ListPDFs implements interfaces.FileStore
func (c *Client) ListPDFs(ctx context.Context) ([]*model.FileMeta, error) {
	q := folderQuery(c.folderID) + " and mimeType = '" + model.PDFMimeType + "'"
	files, err := c.list(ctx, q, "name")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list PDF files", goerr.V("folder_id", c.folderID))
	}
	logging.From(ctx).Info("listed PDF files", "folder_id", c.folderID, "count", len(files))
	return files, nil
}

// ListAll implements interfaces.FileStore
func (c *Client) ListAll(ctx context.Context) ([]*model.FileMeta, error) {
	files, err := c.list(ctx, folderQuery(c.folderID), "name")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list files", goerr.V("folder_id", c.folderID))
	}

	breakdown := model.CountByMimeType(files)
	logging.From(ctx).Debug("folder content by mime type",
		"folder_id", c.folderID,
		"total", len(files),
		"breakdown", breakdown,
	)
	return files, nil
}

// FindByName implements interfaces.FileStore
func (c *Client) FindByName(ctx context.Context, name string) (*model.FileMeta, error) {
	if name == "" {
		return nil, goerr.Wrap(model.ErrValidation, "filename is required")
	}

	q := folderQuery(c.folderID) + " and name = '" + escapeQuery(name) + "'"
	files, err := c.list(ctx, q, "modifiedTime desc")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find file by name", goerr.V(model.FilenameKey, name))
	}
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		logging.From(ctx).Warn("several files share the name, using the latest",
			"filename", name, "count", len(files), "file_id", files[0].ID)
	}
	return files[0], nil
}

// GetFile implements interfaces.FileStore
func (c *Client) GetFile(ctx context.Context, id string) (*model.FileMeta, error) {
	if id == "" {
		return nil, goerr.Wrap(model.ErrValidation, "file ID is required")
	}

	file, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*drivev3.File, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		f, err := c.api.Files.Get(id).
			Fields(googleapi.Field(fileFields)).
			SupportsAllDrives(c.sharedDrives).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classify(err)
		}
		return f, nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get file metadata", goerr.V(model.FileIDKey, id))
	}
	return toFileMeta(file), nil
}

// Download implements interfaces.FileStore. A partially written file is removed on failure.
func (c *Client) Download(ctx context.Context, file *model.FileMeta, dir string) (string, error) {
	if file == nil || file.ID == "" {
		return "", goerr.Wrap(model.ErrValidation, "file to download is required")
	}

	path, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		resp, err := c.api.Files.Get(file.ID).
			SupportsAllDrives(c.sharedDrives).
			Context(ctx).
			Download()
		if err != nil {
			return "", classify(err)
		}
		defer safe.Close(ctx, resp.Body)

		path, err := safe.WriteTemp(ctx, dir, file.Name, resp.Body)
		if err != nil && retry.IsTransientIO(err) {
			return "", goerr.Wrap(model.Tag(model.ErrTransientIO, err), "download stream interrupted")
		}
		return path, err
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to download file",
			goerr.V(model.FileIDKey, file.ID), goerr.V(model.FilenameKey, file.Name))
	}

	logging.From(ctx).Debug("downloaded file", "file_id", file.ID, "path", path)
	return path, nil
}

func (c *Client) list(ctx context.Context, q, orderBy string) ([]*model.FileMeta, error) {
	var result []*model.FileMeta
	pageToken := ""

	for {
		token := pageToken
		page, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*drivev3.FileList, error) {
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
			call := c.api.Files.List().
				Q(q).
				OrderBy(orderBy).
				Fields(listFields).
				PageSize(pageSize).
				Context(ctx)
			if c.sharedDrives {
				call = call.SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Corpora("allDrives")
			}
			if token != "" {
				call = call.PageToken(token)
			}
			resp, err := call.Do()
			if err != nil {
				return nil, classify(err)
			}
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		for _, f := range page.Files {
			result = append(result, toFileMeta(f))
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if result == nil {
		result = []*model.FileMeta{}
	}
	return result, nil
}

// classify maps Drive API errors onto the error taxonomy
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return goerr.Wrap(model.Tag(model.ErrNotFound, err), "drive file not found")
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 || isRateLimitReason(gerr):
			return goerr.Wrap(model.Tag(model.ErrTransientIO, err), "drive API temporarily unavailable", goerr.V("status", gerr.Code))
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return goerr.Wrap(model.Tag(model.ErrConfiguration, err), "drive access denied", goerr.V("status", gerr.Code))
		case gerr.Code == http.StatusBadRequest:
			return goerr.Wrap(model.Tag(model.ErrValidation, err), "drive rejected the request")
		}
		return goerr.Wrap(err, "drive API error", goerr.V("status", gerr.Code))
	}

	if retry.IsTransientIO(err) {
		return goerr.Wrap(model.Tag(model.ErrTransientIO, err), "drive request failed")
	}
	return err
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	if gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func toFileMeta(f *drivev3.File) *model.FileMeta {
	meta := &model.FileMeta{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			meta.ModifiedTime = t
		}
	}
	return meta
}

func folderQuery(folderID string) string {
	return "'" + escapeQuery(folderID) + "' in parents and trashed = false"
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
