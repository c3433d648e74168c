package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Error taxonomy shared by every layer. Wrap with goerr.Wrap and test with errors.Is.
var (
	// ErrConfiguration means a required backend is not configured. Never retried.
	ErrConfiguration = goerr.New("not configured")

	// ErrNotFound means an unknown document, file or id.
	ErrNotFound = goerr.New("not found")

	// ErrTransientIO is a network, TLS or timeout failure against the file store or extractor.
	ErrTransientIO = goerr.New("transient I/O failure")

	// ErrTransientConnection is a lost or broken database connection.
	ErrTransientConnection = goerr.New("database connection failure")

	// ErrValidation is a malformed request or extractor payload.
	ErrValidation = goerr.New("validation failed")

	// ErrStorageIntegrity is an unexpected database failure inside a transaction. The transaction is rolled back.
	ErrStorageIntegrity = goerr.New("storage integrity failure")

	// ErrAlreadyExists is raised by the store when the filename is already taken.
	ErrAlreadyExists = goerr.New("already exists")
)

// Context keys for error values
const (
	DocumentIDKey = "document_id"
	FilenameKey   = "filename"
	FileIDKey     = "file_id"
)

// Tag marks err with a taxonomy sentinel. errors.Is matches both the sentinel and err.
func Tag(sentinel, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return &taggedError{sentinel: sentinel, err: err}
}

type taggedError struct {
	sentinel error
	err      error
}

func (e *taggedError) Error() string {
	return e.err.Error()
}

func (e *taggedError) Unwrap() []error {
	return []error{e.sentinel, e.err}
}
