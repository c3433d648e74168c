package cli

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/cli/config"
	"github.com/secmon-lab/tapestry/pkg/utils/errutil"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const defaultEnvFile = ".env"

func Run(ctx context.Context, args []string, version string) error {
	var loggerCfg config.Logger
	var sentryCfg config.Sentry
	var envFile string
	var closers []func()

	if err := loadEnvFile(args); err != nil {
		return err
	}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Load environment variables from this file before reading flags",
			Value:       defaultEnvFile,
			Destination: &envFile,
		},
	}
	flags = append(flags, loggerCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	app := &cli.Command{
		Name:    "tapestry",
		Usage:   "Ingest sewing tutorial PDFs into a searchable vector store",
		Version: version,
		Flags:   flags,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			f, err := loggerCfg.Configure()
			if err != nil {
				return ctx, err
			}
			closers = append(closers, f)

			flush, err := sentryCfg.Configure(version)
			if err != nil {
				return ctx, err
			}
			closers = append(closers, flush)

			logging.Default().Debug("Starting tapestry", "logger", loggerCfg, "sentry", sentryCfg)
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdProcess(),
			cmdBatchProcess(),
			cmdList(),
			cmdGet(),
			cmdSearch(),
			cmdDelete(),
			cmdListDriveFiles(),
			cmdHealth(),
			cmdReconnectDB(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		errutil.Handle(ctx, err, "failed to run app")
		return err
	}

	return nil
}

// loadEnvFile applies --env-file before flags are parsed, so env sources see its values.
// A missing default file is ignored; a missing explicit file is an error.
func loadEnvFile(args []string) error {
	path, explicit := envFileArg(args)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return goerr.Wrap(err, "failed to load env file", goerr.V(config.ConfigPathKey, path))
	}
	return nil
}

func envFileArg(args []string) (string, bool) {
	for i, arg := range args {
		switch {
		case arg == "--env-file" || arg == "-env-file":
			if i+1 < len(args) {
				return args[i+1], true
			}
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file="), true
		case strings.HasPrefix(arg, "-env-file="):
			return strings.TrimPrefix(arg, "-env-file="), true
		}
	}
	return defaultEnvFile, false
}
