package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

// TxFunc is one unit of work inside a transaction
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// WithSession runs fn in a transaction: commit on nil, rollback on error or panic.
// A connection related failure triggers one Reconnect and one more run of fn.
// When the pool the session ran on was already replaced, fn is run again on the new pool without reconnecting.
// Other errors are returned untouched.
func (m *Manager) WithSession(ctx context.Context, fn TxFunc) error {
	gen, err := m.runSession(ctx, fn)
	if err == nil || !IsConnectionError(err) || ctx.Err() != nil {
		return err
	}

	logger := logging.From(ctx)
	if m.Generation() != gen {
		logger.Info("session failed on a replaced pool, retrying on the current one", "error", err.Error())
	} else {
		logger.Warn("session failed on a broken link, reconnecting once", "error", err.Error())

		m.mu.Lock()
		if m.state == StateReady && m.generation == gen {
			m.state = StateDegraded
		}
		m.mu.Unlock()

		if rerr := m.Reconnect(ctx); rerr != nil {
			return goerr.Wrap(model.Tag(model.ErrTransientConnection, errors.Join(err, rerr)), "session aborted, reconnect failed")
		}
	}

	if _, err := m.runSession(ctx, fn); err != nil {
		if IsConnectionError(err) {
			return goerr.Wrap(model.Tag(model.ErrTransientConnection, err), "session failed again after reconnect")
		}
		return err
	}
	logger.Info("session succeeded after reconnect")
	return nil
}

// runSession returns the generation of the pool it ran on
func (m *Manager) runSession(ctx context.Context, fn TxFunc) (gen uint64, err error) {
	db, gen, err := m.acquire()
	if err != nil {
		return gen, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.checkoutTimeout)
	conn, err := db.Connx(acquireCtx)
	cancel()
	if err != nil {
		return gen, goerr.Wrap(model.Tag(model.ErrTransientConnection, err), "failed to check out a pooled link",
			goerr.V("checkout_timeout", m.cfg.checkoutTimeout))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			logging.From(ctx).Warn("failed to release pooled link", "error", cerr.Error())
		}
	}()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return gen, goerr.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		rollback(ctx, tx)
		return gen, err
	}

	if err := tx.Commit(); err != nil {
		return gen, goerr.Wrap(err, "failed to commit transaction")
	}
	return gen, nil
}

func rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.From(ctx).Warn("failed to roll back transaction", "error", err.Error())
	}
}
