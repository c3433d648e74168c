package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

const pgUniqueViolation = "23505"

// connectionKeywords matches driver messages that signal a dead link
var connectionKeywords = []string{"connection", "closed", "lost", "timeout", "broken"}

// IsConnectionError reports whether err means the database link is unusable, as opposed to
// a business or SQL error on a healthy link.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, model.ErrConfiguration),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrStorageIntegrity),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, model.ErrTransientConnection),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 connection exception, 57P01..03 admin shutdown / crash / cannot connect now
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range connectionKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// storageError classifies a failed statement: connection problems stay retryable,
// anything else is a storage integrity failure.
func storageError(err error, msg string, values ...goerr.Option) error {
	if IsConnectionError(err) {
		return goerr.Wrap(err, msg, values...)
	}
	return goerr.Wrap(model.Tag(model.ErrStorageIntegrity, err), msg, values...)
}
