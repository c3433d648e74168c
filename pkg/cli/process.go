package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/cli/config"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/urfave/cli/v3"
)

var pipelineNeeds = needs{fileStore: true, gemini: true}

// withSignals cancels ctx on interrupt so in-flight stages stop and temp files get removed
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func cmdProcess() *cli.Command {
	var cfg appConfig
	var fileID, filename string
	var asJSON bool

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file-id",
			Usage:       "File ID in the file store. Takes precedence over --filename",
			Destination: &fileID,
		},
		&cli.StringFlag{
			Name:        "filename",
			Aliases:     []string{"f"},
			Usage:       "File name in the file store",
			Destination: &filename,
		},
		jsonFlag(&asJSON),
	}
	flags = append(flags, cfg.Flags(pipelineNeeds)...)

	return &cli.Command{
		Name:      "process",
		Usage:     "Extract one PDF and store it with embeddings",
		ArgsUsage: "[filename]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := withSignals(ctx)
			defer stop()

			if filename == "" && fileID == "" && c.Args().Len() > 0 {
				filename = c.Args().First()
			}
			if filename == "" && fileID == "" {
				return goerr.Wrap(config.ErrMissingArgument, "either --file-id or --filename is required",
					goerr.V(config.FlagKey, "filename"))
			}

			a, err := cfg.build(ctx, c, pipelineNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.uc.Pipeline.Process(ctx, usecase.ProcessInput{
				FileID:   fileID,
				Filename: filename,
			})
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).processed(result)
		},
	}
}

func cmdBatchProcess() *cli.Command {
	var cfg appConfig
	var fileIDs, filenames []string
	var asJSON bool

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "file-id",
			Usage:       "File ID to process. Repeatable",
			Destination: &fileIDs,
		},
		&cli.StringSliceFlag{
			Name:        "filename",
			Aliases:     []string{"f"},
			Usage:       "File name to process. Repeatable",
			Destination: &filenames,
		},
		jsonFlag(&asJSON),
	}
	flags = append(flags, cfg.Flags(pipelineNeeds)...)

	return &cli.Command{
		Name:      "batch-process",
		Usage:     "Process many PDFs. Without file arguments every PDF in the folder is processed",
		ArgsUsage: "[filename...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := withSignals(ctx)
			defer stop()

			filenames = append(filenames, c.Args().Slice()...)

			a, err := cfg.build(ctx, c, pipelineNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.uc.Pipeline.BatchProcess(ctx, usecase.BatchInput{
				FileIDs:   fileIDs,
				Filenames: filenames,
			})
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).batch(result)
		},
	}
}
