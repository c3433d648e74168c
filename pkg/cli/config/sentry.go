package config

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Sentry enables error reporting from errutil.Handle
type Sentry struct {
	DSN         string `masq:"secret"`
	environment string
}

func (s *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Category:    "Sentry",
			Usage:       "Sentry DSN for error reporting",
			Sources:     cli.EnvVars("TAPESTRY_SENTRY_DSN"),
			Destination: &s.DSN,
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Category:    "Sentry",
			Usage:       "Sentry environment",
			Value:       "development",
			Sources:     cli.EnvVars("TAPESTRY_SENTRY_ENV"),
			Destination: &s.environment,
		},
	}
}

func (s Sentry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.DSN != ""),
		slog.String("environment", s.environment),
	)
}

// Configure initializes the Sentry client. The returned closer flushes pending events.
// Without a DSN nothing is initialized.
func (s *Sentry) Configure(release string) (func(), error) {
	if s.DSN == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         s.DSN,
		Environment: s.environment,
		Release:     release,
	}); err != nil {
		return func() {}, goerr.Wrap(err, "failed to initialize sentry")
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}
