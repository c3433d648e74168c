package safe

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

// Close safely closes an io.Closer and logs any errors.
// It handles nil closers gracefully.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// Write safely writes data to an io.Writer and logs any errors.
// It handles nil writers gracefully.
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Error("Failed to write", slog.Any("error", err))
	}
}

// Remove deletes a file and logs any errors. A missing file is not an error.
func Remove(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.From(ctx).Warn("Failed to remove file", slog.String("path", path), slog.Any("error", err))
	}
}

// RemoveAll deletes a directory tree and logs any errors.
func RemoveAll(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logging.From(ctx).Warn("Failed to remove directory", slog.String("path", dir), slog.Any("error", err))
	}
}

// WriteTemp streams r into a new file under dir whose name ends with name.
// The partial file is removed when writing fails.
func WriteTemp(ctx context.Context, dir, name string, r io.Reader) (string, error) {
	out, err := os.CreateTemp(dir, "*-"+sanitizeName(name))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create temporary file", goerr.V("dir", dir))
	}

	if _, err := io.Copy(out, r); err != nil {
		Close(ctx, out)
		Remove(ctx, out.Name())
		return "", goerr.Wrap(err, "failed to write temporary file", goerr.V("path", out.Name()))
	}
	if err := out.Close(); err != nil {
		Remove(ctx, out.Name())
		return "", goerr.Wrap(err, "failed to flush temporary file", goerr.V("path", out.Name()))
	}
	return out.Name(), nil
}

func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "download"
	}
	return strings.Map(func(r rune) rune {
		if r == '*' || r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
}
