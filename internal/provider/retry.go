package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// CallWithRetry runs fn with a per-attempt timeout, retrying immediately
// until maxTries attempts have been made. The final failure is an *Error.
func CallWithRetry(ctx context.Context, kind string, timeout time.Duration, maxTries int, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	attempts := 0
	op := func() (json.RawMessage, error) {
		attempts++
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, err := fn(callCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(maxTries)),
	)
	if err != nil {
		return nil, &Error{Kind: kind, Attempts: attempts, Err: err}
	}
	return out, nil
}
