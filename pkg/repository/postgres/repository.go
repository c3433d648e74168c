package postgres

import (
	"context"

	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// Repository is the PostgreSQL + pgvector backed repository
type Repository struct {
	manager  *Manager
	document *documentRepository
}

var _ interfaces.Repository = &Repository{}

// New creates a repository over an initialized manager
func New(manager *Manager) *Repository {
	return &Repository{
		manager:  manager,
		document: &documentRepository{manager: manager},
	}
}

// Document returns the document repository
func (r *Repository) Document() interfaces.DocumentRepository {
	return r.document
}

// HealthCheck implements interfaces.Repository
func (r *Repository) HealthCheck(ctx context.Context) bool {
	return r.manager.HealthCheck(ctx)
}

// Reconnect implements interfaces.Repository
func (r *Repository) Reconnect(ctx context.Context) error {
	return r.manager.Reconnect(ctx)
}

// Status implements interfaces.Repository
func (r *Repository) Status() model.DatabaseStatus {
	stats := r.manager.Stats()
	return model.DatabaseStatus{
		Backend:         "postgres",
		State:           r.manager.State().String(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		Reconnects:      r.manager.Reconnects(),
	}
}

// Close disposes the pool
func (r *Repository) Close() error {
	r.manager.Dispose(context.Background())
	return nil
}
