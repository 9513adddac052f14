package util

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// GetErrorCode returns the server error code of the given error, or 0
// if the error carries none.
func GetErrorCode(err error) int {
	var se mongo.ServerError
	if errors.As(err, &se) {
		var ce mongo.CommandError
		if errors.As(err, &ce) {
			return int(ce.Code)
		}

		var we mongo.WriteException
		if errors.As(err, &we) && we.WriteConcernError != nil {
			return we.WriteConcernError.Code
		}
	}

	return 0
}

// IsTransientError reports whether err is the sort of failure that a later
// attempt could plausibly avoid: network trouble, timeouts, or errors the
// server labels as retryable.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}

	var le mongo.LabeledError
	if errors.As(err, &le) {
		return le.HasErrorLabel("RetryableWriteError") || le.HasErrorLabel("TransientTransactionError")
	}

	return false
}

// ErrorKind gives a short classification of err for logging.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsTransientError(err):
		return "transient"
	case GetErrorCode(err) != 0:
		return "server"
	default:
		return "other"
	}
}
