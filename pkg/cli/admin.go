package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

func cmdListDriveFiles() *cli.Command {
	var cfg appConfig
	var asJSON bool
	driveNeeds := needs{fileStore: true}

	flags := []cli.Flag{jsonFlag(&asJSON)}
	flags = append(flags, cfg.Flags(driveNeeds)...)

	return &cli.Command{
		Name:    "list-drive-files",
		Aliases: []string{"files"},
		Usage:   "List PDF files in the configured folder",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, driveNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			listing, err := a.uc.Drive.ListFiles(ctx)
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).files(listing)
		},
	}
}

func cmdHealth() *cli.Command {
	var cfg appConfig
	var asJSON bool

	flags := []cli.Flag{jsonFlag(&asJSON)}
	flags = append(flags, cfg.Flags(needs{})...)

	return &cli.Command{
		Name:  "health",
		Usage: "Check database connectivity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.uc.Admin.HealthCheck(ctx)
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).health(status)
		},
	}
}

func cmdReconnectDB() *cli.Command {
	var cfg appConfig
	var asJSON bool

	flags := []cli.Flag{jsonFlag(&asJSON)}
	flags = append(flags, cfg.Flags(needs{})...)

	return &cli.Command{
		Name:  "reconnect-db",
		Usage: "Dispose the connection pool and open a new one",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.uc.Admin.ForceReconnect(ctx)
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).reconnect(result)
		},
	}
}
