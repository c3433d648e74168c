package postgres

import (
	"context"
	"database/sql"
)

// NewManagerWithOpener builds a manager whose pools come from open instead of pgx
func NewManagerWithOpener(dsn string, open func(ctx context.Context) (*sql.DB, error), opts ...Option) *Manager {
	m := NewManager(dsn, opts...)
	m.open = func(ctx context.Context, _ string, _ poolConfig) (*sql.DB, error) {
		return open(ctx)
	}
	return m
}

// Opened returns how many pools were built
func (m *Manager) Opened() int64 {
	return m.opened.Load()
}

var IsUniqueViolation = isUniqueViolation
