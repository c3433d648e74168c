package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/repository/memory"
	"github.com/secmon-lab/tapestry/pkg/repository/postgres"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Repository holds CLI flags for repository backend configuration
type Repository struct {
	backend  string
	postgres Postgres
}

// Flags returns CLI flags for repository configuration
func (r *Repository) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "repository-backend",
			Category:    "Database",
			Usage:       "Repository backend type (postgres or memory)",
			Value:       "postgres",
			Sources:     cli.EnvVars("TAPESTRY_REPOSITORY_BACKEND"),
			Destination: &r.backend,
		},
	}
	return append(flags, r.postgres.Flags()...)
}

// Backend returns the configured backend type
func (r *Repository) Backend() string {
	return r.backend
}

func (r Repository) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", r.backend),
		slog.Any("postgres", r.postgres),
	)
}

// Configure initializes and returns a repository based on the configured backend.
// The caller is responsible for calling Close() on the returned repository.
// opts only apply to the postgres backend.
func (r *Repository) Configure(ctx context.Context, opts ...postgres.Option) (interfaces.Repository, error) {
	switch r.backend {
	case "postgres":
		manager := r.postgres.Configure(ctx, opts...)
		logging.From(ctx).Info("Using PostgreSQL repository", "postgres", r.postgres, "state", manager.State().String())
		return postgres.New(manager), nil

	case "memory":
		logging.From(ctx).Info("Using in-memory repository (development mode)")
		return memory.New(), nil

	default:
		return nil, goerr.Wrap(ErrInvalidBackend, "invalid repository backend", goerr.V(BackendKey, r.backend))
	}
}
