package util

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// WrapCtxErrWithCause returns the error from the given context, wrapped
// together with the context's cause (if any) so that errors.Is() matches
// both the standard context errors and the cause.
func WrapCtxErrWithCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	err := ctx.Err() //nolint:gocritic

	if cause == nil {
		return err
	}

	// A cause that already wraps the stdlib error reads better alone.
	if errors.Is(cause, err) {
		return cause
	}

	if errors.Is(err, cause) {
		return err
	}

	return fmt.Errorf("%w: %w", err, cause)
}
