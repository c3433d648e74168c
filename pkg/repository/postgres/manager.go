package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of the connection pool
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type poolConfig struct {
	poolSize         int
	maxOverflow      int
	checkoutTimeout  time.Duration
	recycle          time.Duration
	connectTimeout   time.Duration
	statementTimeout time.Duration
	idleInTxTimeout  time.Duration
	healthTimeout    time.Duration
	drainWait        time.Duration
	reconnectWait    time.Duration
	reconnectTimeout time.Duration
	reconnectPolicy  retry.Policy
}

func defaultPoolConfig() poolConfig {
	return poolConfig{
		poolSize:         3,
		maxOverflow:      5,
		checkoutTimeout:  20 * time.Second,
		recycle:          30 * time.Minute,
		connectTimeout:   15 * time.Second,
		statementTimeout: 5 * time.Minute,
		idleInTxTimeout:  time.Minute,
		healthTimeout:    5 * time.Second,
		drainWait:        500 * time.Millisecond,
		reconnectWait:    2 * time.Second,
		reconnectTimeout: 2 * time.Minute,
		reconnectPolicy:  retry.ReconnectPolicy(),
	}
}

// Option configures Manager
type Option func(*Manager)

// WithPoolSize sets the number of kept connections and how many more may be opened under load
func WithPoolSize(size, overflow int) Option {
	return func(m *Manager) {
		m.cfg.poolSize = size
		m.cfg.maxOverflow = overflow
	}
}

// WithCheckoutTimeout bounds how long a caller waits for a free connection
func WithCheckoutTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cfg.checkoutTimeout = d }
}

// WithRecycle sets the maximum lifetime of a pooled connection
func WithRecycle(d time.Duration) Option {
	return func(m *Manager) { m.cfg.recycle = d }
}

// WithStatementTimeout sets the server side statement_timeout
func WithStatementTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cfg.statementTimeout = d }
}

// WithHealthTimeout bounds the health check round trip
func WithHealthTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cfg.healthTimeout = d }
}

// WithReconnectPolicy replaces the backoff used to re-initialize the pool
func WithReconnectPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.cfg.reconnectPolicy = p }
}

// WithReconnectWait sets the pause between dispose and the first re-initialize attempt
func WithReconnectWait(d time.Duration) Option {
	return func(m *Manager) { m.cfg.reconnectWait = d }
}

// WithReconnectTimeout bounds a whole reconnect cycle. The cycle does not follow the cancellation of the caller that started it.
func WithReconnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cfg.reconnectTimeout = d }
}

// WithDrainWait bounds how long Dispose waits for in-flight connections
func WithDrainWait(d time.Duration) Option {
	return func(m *Manager) { m.cfg.drainWait = d }
}

type opener func(ctx context.Context, dsn string, cfg poolConfig) (*sql.DB, error)

// Manager owns the process wide connection pool: creation, health check, disposal and reconnection.
type Manager struct {
	dsn    string
	cfg    poolConfig
	open   opener
	opened atomic.Int64

	mu    sync.RWMutex
	db    *sqlx.DB
	state State
	// generation is bumped every time a new pool replaces the previous one
	generation uint64

	reconnectGroup singleflight.Group
	reconnects     atomic.Int64
}

// NewManager creates a manager. An empty dsn leaves it UNINITIALIZED and every call fails with ErrConfiguration.
func NewManager(dsn string, opts ...Option) *Manager {
	m := &Manager{
		dsn:   dsn,
		cfg:   defaultPoolConfig(),
		open:  openPgx,
		state: StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured reports whether a database URL was given
func (m *Manager) Configured() bool {
	return m.dsn != ""
}

// State returns the current pool state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns pool statistics. Zero value when no pool exists.
func (m *Manager) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return sql.DBStats{}
	}
	return m.db.Stats()
}

// Reconnects returns the number of completed reconnect cycles
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// Initialize builds the pool and verifies it with a ping
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.Configured() {
		return goerr.Wrap(model.ErrConfiguration, "database URL is not configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil && m.state == StateReady {
		return nil
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			logging.From(ctx).Warn("failed to close previous pool", "error", err.Error())
		}
		m.db = nil
	}

	db, err := m.openPool(ctx)
	if err != nil {
		return err
	}

	m.db = db
	m.state = StateReady
	m.generation++
	logging.From(ctx).Info("database pool initialized",
		"generation", m.generation,
		"pool_size", m.cfg.poolSize,
		"max_overflow", m.cfg.maxOverflow,
		"recycle", m.cfg.recycle,
	)
	return nil
}

func (m *Manager) openPool(ctx context.Context) (*sqlx.DB, error) {
	m.opened.Add(1)
	sqlDB, err := m.open(ctx, m.dsn, m.cfg)
	if err != nil {
		return nil, err
	}

	db := sqlx.NewDb(sqlDB, "pgx")
	db.SetMaxOpenConns(m.cfg.poolSize + m.cfg.maxOverflow)
	db.SetMaxIdleConns(m.cfg.poolSize)
	db.SetConnMaxLifetime(m.cfg.recycle)

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			logging.From(ctx).Warn("failed to close unusable pool", "error", cerr.Error())
		}
		return nil, goerr.Wrap(model.Tag(model.ErrTransientConnection, err), "failed to ping database")
	}
	return db, nil
}

func openPgx(_ context.Context, dsn string, cfg poolConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "invalid database URL", goerr.V("reason", err.Error()))
	}
	connCfg.ConnectTimeout = cfg.connectTimeout
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.statementTimeout.Milliseconds(), 10)
	connCfg.RuntimeParams["idle_in_transaction_session_timeout"] = strconv.FormatInt(cfg.idleInTxTimeout.Milliseconds(), 10)

	// validate every connection before handing it out
	alwaysPing := stdlib.OptionShouldPing(func(context.Context, stdlib.ShouldPingParams) bool { return true })
	return stdlib.OpenDB(*connCfg, alwaysPing), nil
}

// Generation identifies the current pool. It changes whenever a pool is (re)built.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// current returns the live pool or a classified error
func (m *Manager) current() (*sqlx.DB, error) {
	db, _, err := m.acquire()
	return db, err
}

// acquire returns the live pool with its generation. The generation is returned on error too.
func (m *Manager) acquire() (*sqlx.DB, uint64, error) {
	if !m.Configured() {
		return nil, 0, goerr.Wrap(model.ErrConfiguration, "database is not configured")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.state == StateUninitialized:
		return nil, m.generation, goerr.Wrap(model.ErrTransientConnection, "database pool is not initialized")
	case m.state == StateClosed:
		return nil, m.generation, goerr.Wrap(model.ErrTransientConnection, "database pool is closed")
	case m.db == nil:
		return nil, m.generation, goerr.Wrap(model.ErrTransientConnection, "database pool is unavailable", goerr.V("state", m.state.String()))
	}
	return m.db, m.generation, nil
}

func (m *Manager) setState(db *sqlx.DB, from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == db && m.state == from {
		m.state = to
	}
}

// HealthCheck runs a trivial round trip. It never returns an error.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	logger := logging.From(ctx)

	db, err := m.current()
	if err != nil {
		logger.Warn("database health check skipped", "error", err.Error())
		return false
	}

	hctx, cancel := context.WithTimeout(ctx, m.cfg.healthTimeout)
	defer cancel()

	var one int
	if err := db.GetContext(hctx, &one, "SELECT 1"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(hctx.Err(), context.DeadlineExceeded) {
			logger.Warn("database health check timed out", "timeout", m.cfg.healthTimeout)
		} else {
			logger.Error("database health check failed", "error", err.Error())
		}
		m.setState(db, StateReady, StateDegraded)
		return false
	}

	m.setState(db, StateDegraded, StateReady)
	return true
}

// Dispose closes the pool. Safe to call repeatedly; close failures are only logged.
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	db := m.db
	m.db = nil
	if m.state != StateUninitialized || db != nil {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if db == nil {
		return
	}

	m.waitDrain(ctx, db)
	if err := db.Close(); err != nil {
		logging.From(ctx).Warn("error while disposing database pool", "error", err.Error())
	}
	logging.From(ctx).Info("database pool disposed")
}

func (m *Manager) waitDrain(ctx context.Context, db *sqlx.DB) {
	if m.cfg.drainWait <= 0 {
		return
	}
	deadline := time.NewTimer(m.cfg.drainWait)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for db.Stats().InUse > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logging.From(ctx).Warn("disposing pool with connections still in use", "in_use", db.Stats().InUse)
			return
		case <-tick.C:
		}
	}
}

// Reconnect disposes the pool and re-initializes it with backoff. Concurrent callers share one attempt.
// The attempt runs detached from ctx under its own timeout; a cancelled caller stops waiting without
// aborting the attempt for the others.
func (m *Manager) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "reconnect not started")
	}

	ch := m.reconnectGroup.DoChan("reconnect", func() (any, error) {
		rctx := context.WithoutCancel(ctx)
		if m.cfg.reconnectTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, m.cfg.reconnectTimeout)
			defer cancel()
		}
		return nil, m.reconnect(rctx)
	})

	select {
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "stopped waiting for reconnect")
	case res := <-ch:
		if res.Shared {
			logging.From(ctx).Debug("joined in-flight reconnect")
		}
		return res.Err
	}
}

func (m *Manager) reconnect(ctx context.Context) error {
	logger := logging.From(ctx)
	if !m.Configured() {
		return goerr.Wrap(model.ErrConfiguration, "database URL is not configured")
	}

	logger.Warn("reconnecting database pool")
	if err := m.rebuild(ctx); err != nil {
		m.mu.Lock()
		if m.state != StateReady {
			m.state = StateDegraded
		}
		m.mu.Unlock()
		logger.Error("database reconnect failed", "error", err.Error())
		return goerr.Wrap(model.Tag(model.ErrTransientConnection, err), "failed to reconnect database")
	}

	m.reconnects.Add(1)
	logger.Info("database pool reconnected", "reconnects", m.reconnects.Load(), "generation", m.Generation())
	return nil
}

func (m *Manager) rebuild(ctx context.Context) error {
	m.Dispose(ctx)

	if m.cfg.reconnectWait > 0 {
		timer := time.NewTimer(m.cfg.reconnectWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return goerr.Wrap(ctx.Err(), "reconnect interrupted")
		case <-timer.C:
		}
	}

	policy := m.cfg.reconnectPolicy
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, model.ErrConfiguration) && !errors.Is(err, context.Canceled)
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		if err := m.Initialize(ctx); err != nil {
			return err
		}
		if !m.HealthCheck(ctx) {
			m.Dispose(ctx)
			return goerr.Wrap(model.ErrTransientConnection, "health check failed after re-initialize")
		}
		return nil
	})
}
