package coop

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCallTimeout bounds a single outbound call.
const DefaultCallTimeout = 10 * time.Second

// callWithTimeout runs fn under timeout and reports an expired deadline as
// ErrNetworkTimeout.
func callWithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %s: %v", ErrNetworkTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
