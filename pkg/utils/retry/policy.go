package retry

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

// FileStorePolicy retries cheap metadata and download calls
func FileStorePolicy() Policy {
	return Policy{
		Name:        "file_store",
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
		Retryable:   IsTransientIO,
	}
}

// ExtractorPolicy retries the expensive AI extraction call: fewer, longer spaced attempts
func ExtractorPolicy() Policy {
	return Policy{
		Name:        "extractor",
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
		Retryable:   IsTransientIO,
	}
}

// EmbedderPolicy retries embedding requests
func EmbedderPolicy() Policy {
	return Policy{
		Name:        "embedder",
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
		Jitter:      0.1,
		Retryable:   IsTransientIO,
	}
}

// ReconnectPolicy drives database re-initialization after a connection loss
func ReconnectPolicy() Policy {
	return Policy{
		Name:        "db_reconnect",
		MaxAttempts: 3,
		BaseDelay:   3 * time.Second,
		Multiplier:  2,
		MaxDelay:    12 * time.Second,
	}
}

// IsTransientIO reports whether err is a transport level failure worth retrying.
// Not found, validation, configuration and authorization failures fail fast.
func IsTransientIO(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrConfiguration),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, model.ErrTransientIO),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"tls handshake", "ssl", "connection reset", "broken pipe", "eof", "timeout", "temporarily unavailable"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
