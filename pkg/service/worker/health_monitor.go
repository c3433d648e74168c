package worker

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/utils/async"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

const (
	// DefaultHealthInterval is how often the database is checked
	DefaultHealthInterval = 30 * time.Second
	// DefaultFailureThreshold is the number of consecutive failed checks before a reconnect
	DefaultFailureThreshold = 3
)

// HealthMonitor checks the database periodically and rebuilds the pool when it stops answering.
//
// Only one reconnect runs at a time. A check that fails while a reconnect is in flight is ignored.
type HealthMonitor struct {
	repo     interfaces.Repository
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu        sync.Mutex
	inflight  <-chan struct{}
	failures  int
	threshold int
}

// HealthMonitorOption configures HealthMonitor
type HealthMonitorOption func(*HealthMonitor)

// WithFailureThreshold sets how many consecutive failed checks trigger a reconnect
func WithFailureThreshold(n int) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

func NewHealthMonitor(repo interfaces.Repository, interval time.Duration, opts ...HealthMonitorOption) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	m := &HealthMonitor{
		repo:      repo,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		threshold: DefaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the check loop in a goroutine. It does not block.
func (m *HealthMonitor) Start(ctx context.Context) error {
	if m.repo == nil {
		return goerr.New("repository is required for health monitor")
	}
	logging.From(ctx).Info("health monitor starting", "interval", m.interval.String())

	go m.run(ctx)
	return nil
}

// Stop signals the loop to stop and waits for it and any in-flight reconnect
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	inflight := m.inflight
	m.mu.Unlock()
	if inflight != nil {
		<-inflight
	}
	logging.Default().Info("health monitor stopped")
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)

		case <-m.stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("health monitor context cancelled")
			return
		}
	}
}

func (m *HealthMonitor) check(ctx context.Context) {
	if m.repo.HealthCheck(ctx) {
		m.mu.Lock()
		if m.failures > 0 {
			logging.From(ctx).Info("database healthy again", "failed_checks", m.failures)
		}
		m.failures = 0
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	status := m.repo.Status()
	logging.From(ctx).Warn("database health check failed",
		"consecutive", m.failures,
		"state", status.State)

	if m.failures < m.threshold || m.reconnecting() {
		return
	}

	m.inflight = async.Dispatch(ctx, func(ctx context.Context) error {
		if err := m.repo.Reconnect(ctx); err != nil {
			return goerr.Wrap(err, "background reconnect failed")
		}
		logging.From(ctx).Info("background reconnect succeeded")
		return nil
	})
}

// reconnecting must be called with mu held
func (m *HealthMonitor) reconnecting() bool {
	if m.inflight == nil {
		return false
	}
	select {
	case <-m.inflight:
		m.inflight = nil
		return false
	default:
		return true
	}
}
