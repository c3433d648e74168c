package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/cli/config"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/repository/postgres"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// needs selects which backends a command builds
type needs struct {
	fileStore bool
	gemini    bool
}

// appConfig is the configuration shared by commands that touch the pipeline
type appConfig struct {
	repo      config.Repository
	fileStore config.FileStore
	gemini    config.Gemini
	pipeline  config.Pipeline
}

func (a *appConfig) Flags(n needs) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, a.repo.Flags()...)
	flags = append(flags, a.pipeline.Flags()...)
	if n.fileStore {
		flags = append(flags, a.fileStore.Flags()...)
	}
	if n.gemini {
		flags = append(flags, a.gemini.Flags()...)
	}
	return flags
}

// app is the wired object graph of one command run
type app struct {
	repo    interfaces.Repository
	uc      *usecase.UseCases
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *appConfig) build(ctx context.Context, c *cli.Command, n needs) (*app, error) {
	settings, err := a.pipeline.Configure(c)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load pipeline configuration")
	}

	var pgOpts []postgres.Option
	if settings.ReconnectRetry.MaxAttempts > 0 {
		pgOpts = append(pgOpts, postgres.WithReconnectPolicy(settings.ReconnectRetry))
	}
	repo, err := a.repo.Configure(ctx, pgOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}
	result := &app{repo: repo}
	result.closers = append(result.closers, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Error("failed to close repository", "error", err.Error())
		}
	})

	opts := []usecase.Option{
		usecase.WithBatchConcurrency(settings.BatchConcurrency),
		usecase.WithExtractorConcurrency(settings.ExtractorConcurrency),
		usecase.WithTempDir(settings.TempDir),
	}

	if n.fileStore {
		fs, closeFS, err := a.fileStore.Configure(ctx, settings.FileStoreRetry)
		if err != nil {
			result.Close()
			return nil, goerr.Wrap(err, "failed to initialize file store")
		}
		result.closers = append(result.closers, closeFS)
		if fs != nil {
			opts = append(opts, usecase.WithFileStore(fs))
		} else {
			logging.From(ctx).Warn("File store location is not set; processing and listing files are disabled")
		}
	}

	if n.gemini {
		ex, em, err := a.gemini.Configure(ctx, settings)
		if err != nil {
			result.Close()
			return nil, goerr.Wrap(err, "failed to initialize Gemini")
		}
		if ex != nil {
			opts = append(opts, usecase.WithExtractor(ex), usecase.WithEmbedder(em))
		} else {
			logging.From(ctx).Warn("Gemini project is not set; extraction and search are disabled")
		}
	}

	result.uc = usecase.New(repo, opts...)
	return result, nil
}
