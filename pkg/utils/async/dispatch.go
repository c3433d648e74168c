package async

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/utils/errutil"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

// Dispatch runs handler in a new goroutine detached from the caller's cancellation.
// The logger of ctx is carried over. Errors and panics are logged and reported. done is
// closed when the handler returns, so callers may wait or ignore it.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) <-chan struct{} {
	bgCtx := logging.With(context.WithoutCancel(ctx), logging.From(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				errutil.Handle(bgCtx, goerr.New(fmt.Sprint(r)), "panic in async handler")
			}
		}()

		if err := handler(bgCtx); err != nil {
			errutil.Handle(bgCtx, err, "async handler failed")
		}
	}()

	return done
}
