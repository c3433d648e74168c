package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/service/drive"
	"github.com/secmon-lab/tapestry/pkg/service/gcs"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

// FileStore selects where PDFs are read from
type FileStore struct {
	backend         string
	folderID        string
	sharedDrives    bool
	rateLimit       float64
	bucket          string
	prefix          string
	credentialsFile string
}

func (f *FileStore) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "file-store",
			Category:    "File store",
			Usage:       "File store backend (drive or gcs)",
			Value:       "drive",
			Sources:     cli.EnvVars("TAPESTRY_FILE_STORE"),
			Destination: &f.backend,
		},
		&cli.StringFlag{
			Name:        "drive-folder-id",
			Category:    "File store",
			Usage:       "Google Drive folder holding the PDFs",
			Sources:     cli.EnvVars("TAPESTRY_DRIVE_FOLDER_ID", "GOOGLE_DRIVE_FOLDER_ID"),
			Destination: &f.folderID,
		},
		&cli.BoolFlag{
			Name:        "drive-shared-drives",
			Category:    "File store",
			Usage:       "Include items of shared drives",
			Value:       true,
			Sources:     cli.EnvVars("TAPESTRY_DRIVE_SHARED_DRIVES"),
			Destination: &f.sharedDrives,
		},
		&cli.FloatFlag{
			Name:        "drive-rate-limit",
			Category:    "File store",
			Usage:       "Drive API requests per second",
			Value:       8,
			Sources:     cli.EnvVars("TAPESTRY_DRIVE_RATE_LIMIT"),
			Destination: &f.rateLimit,
		},
		&cli.StringFlag{
			Name:        "gcs-bucket",
			Category:    "File store",
			Usage:       "Cloud Storage bucket holding the PDFs",
			Sources:     cli.EnvVars("TAPESTRY_GCS_BUCKET"),
			Destination: &f.bucket,
		},
		&cli.StringFlag{
			Name:        "gcs-prefix",
			Category:    "File store",
			Usage:       "Object prefix used as the folder",
			Sources:     cli.EnvVars("TAPESTRY_GCS_PREFIX"),
			Destination: &f.prefix,
		},
		&cli.StringFlag{
			Name:        "google-credentials",
			Category:    "File store",
			Usage:       "Service account JSON file (default: application default credentials)",
			Sources:     cli.EnvVars("TAPESTRY_GOOGLE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"),
			Destination: &f.credentialsFile,
		},
	}
}

func (f FileStore) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", f.backend),
		slog.String("drive_folder_id", f.folderID),
		slog.Bool("shared_drives", f.sharedDrives),
		slog.String("gcs_bucket", f.bucket),
		slog.String("gcs_prefix", f.prefix),
	)
}

// Configured reports whether the selected backend has its location set
func (f *FileStore) Configured() bool {
	switch f.backend {
	case "drive":
		return f.folderID != ""
	case "gcs":
		return f.bucket != ""
	}
	return false
}

// Configure builds the file store. It returns nil without error when the location is not set,
// so commands that never touch files keep working. The closer is never nil.
func (f *FileStore) Configure(ctx context.Context, policy retry.Policy) (interfaces.FileStore, func(), error) {
	noop := func() {}

	var clientOpts []option.ClientOption
	if f.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(f.credentialsFile))
	}

	switch f.backend {
	case "drive":
		if f.folderID == "" {
			return nil, noop, nil
		}
		client, err := drive.New(ctx, f.folderID,
			drive.WithClientOptions(clientOpts...),
			drive.WithSharedDrives(f.sharedDrives),
			drive.WithRateLimit(f.rateLimit, 10),
			drive.WithRetryPolicy(policy),
		)
		if err != nil {
			return nil, noop, goerr.Wrap(err, "failed to create drive client")
		}
		logging.From(ctx).Info("Using Google Drive file store", "folder_id", f.folderID)
		return client, noop, nil

	case "gcs":
		if f.bucket == "" {
			return nil, noop, nil
		}
		client, err := gcs.New(ctx, f.bucket, f.prefix,
			gcs.WithClientOptions(clientOpts...),
			gcs.WithRetryPolicy(policy),
		)
		if err != nil {
			return nil, noop, goerr.Wrap(err, "failed to create storage client")
		}
		logging.From(ctx).Info("Using Cloud Storage file store", "bucket", f.bucket, "prefix", f.prefix)
		return client, func() { _ = client.Close() }, nil

	default:
		return nil, noop, goerr.Wrap(ErrInvalidBackend, "invalid file store backend", goerr.V(BackendKey, f.backend))
	}
}
