package postgres_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// fakeBackend is an in-process stand-in for a server that can be taken down
type fakeBackend struct {
	mu        sync.Mutex
	down      bool
	connects  int
	commits   int
	rollbacks int
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBackend) isDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

func (b *fakeBackend) counts() (commits, rollbacks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits, b.rollbacks
}

func (b *fakeBackend) open(context.Context) (*sql.DB, error) {
	return sql.OpenDB(&fakeConnector{backend: b}), nil
}

var errRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

type fakeConnector struct {
	backend *fakeBackend
}

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	if c.backend.isDown() {
		return nil, errRefused
	}
	c.backend.mu.Lock()
	c.backend.connects++
	c.backend.mu.Unlock()
	return &fakeConn{backend: c.backend}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("use the connector")
}

type fakeConn struct {
	backend *fakeBackend
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare is not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	if c.backend.isDown() {
		return nil, errRefused
	}
	return &fakeTx{backend: c.backend}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	if c.backend.isDown() {
		return errRefused
	}
	return nil
}

func (c *fakeConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	if c.backend.isDown() {
		return nil, errRefused
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	if c.backend.isDown() {
		return nil, errRefused
	}
	return &fakeRows{values: []driver.Value{int64(1)}}, nil
}

type fakeTx struct {
	backend *fakeBackend
}

func (t *fakeTx) Commit() error {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	t.backend.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	t.backend.rollbacks++
	return nil
}

type fakeRows struct {
	values []driver.Value
	done   bool
}

func (r *fakeRows) Columns() []string { return []string{"?column?"} }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	copy(dest, r.values)
	return nil
}
