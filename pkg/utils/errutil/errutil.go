package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"github.com/secmon-lab/tapestry/pkg/utils/safe"
)

// ErrorResponse is the JSON body of every HTTP error
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// StatusCode maps the error taxonomy to an HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConfiguration),
		errors.Is(err, model.ErrTransientConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTransientIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind is a short machine readable name of the error class
func Kind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConfiguration):
		return "configuration"
	case errors.Is(err, model.ErrTransientConnection):
		return "transient_connection"
	case errors.Is(err, model.ErrTransientIO):
		return "transient_io"
	case errors.Is(err, model.ErrStorageIntegrity):
		return "storage_integrity"
	default:
		return "internal"
	}
}

// Handle logs the error with goerr values and stack and reports it to Sentry when configured.
func Handle(ctx context.Context, err error, msg string) {
	if err == nil {
		return
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"kind", Kind(err),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error(), "kind", Kind(err))
	}

	report(err, msg)
}

// HandleHTTP logs the error and writes a JSON error response with the status of its class.
// Client errors are logged at warn level and never reported.
func HandleHTTP(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	statusCode := StatusCode(err)
	if statusCode >= http.StatusInternalServerError {
		Handle(ctx, err, "HTTP error")
	} else {
		logging.From(ctx).Warn("HTTP client error", "status", statusCode, "error", err.Error())
	}

	detail := err.Error()
	if errors.Is(err, retry.ErrRetriesExhausted) {
		detail = "upstream kept failing after retries: " + detail
	}

	body, encErr := json.Marshal(ErrorResponse{Error: Kind(err), Detail: detail})
	if encErr != nil {
		logging.From(ctx).Warn("failed to encode error response", "error", encErr)
		body = []byte(`{"error":"internal"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	safe.Write(ctx, w, append(body, '\n'))
}

func report(err error, msg string) {
	if sentry.CurrentHub().Client() == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", Kind(err))
		scope.SetTag("message", msg)
		if ge := goerr.Unwrap(err); ge != nil {
			scope.SetContext("goerr", sentry.Context(ge.Values()))
		}
		sentry.CaptureException(err)
	})
}
