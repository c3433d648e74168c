package memory

import (
	"context"
	"sync/atomic"

	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory keeps everything in process. Used when no database URL is configured and in tests.
type Memory struct {
	document   *documentRepository
	unhealthy  atomic.Bool
	reconnects atomic.Int64
}

var _ interfaces.Repository = &Memory{}

// Option configures Memory
type Option func(*Memory)

// WithInstructionFault makes StoreDocument fail while inserting the instruction at index seq
func WithInstructionFault(seq int) Option {
	return func(m *Memory) {
		m.document.instructionFault = seq
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		document: newDocumentRepository(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Document() interfaces.DocumentRepository {
	return m.document
}

// SetHealthy switches the result of HealthCheck until the next Reconnect
func (m *Memory) SetHealthy(healthy bool) {
	m.unhealthy.Store(!healthy)
}

func (m *Memory) HealthCheck(ctx context.Context) bool {
	return !m.unhealthy.Load()
}

func (m *Memory) Reconnect(ctx context.Context) error {
	m.unhealthy.Store(false)
	m.reconnects.Add(1)
	return nil
}

func (m *Memory) Status() model.DatabaseStatus {
	state := "ready"
	if m.unhealthy.Load() {
		state = "degraded"
	}
	return model.DatabaseStatus{
		Backend:    "memory",
		State:      state,
		Reconnects: m.reconnects.Load(),
	}
}

func (m *Memory) Close() error {
	return nil
}
