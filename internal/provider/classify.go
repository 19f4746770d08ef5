package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/httputil"
)

// Classify maps a transport error onto the provider error kinds.
// Context errors pass through untouched so cancellation is never retried.
func Classify(name, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pe *contracts.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch {
		case se.RateLimited():
			return contracts.NewProviderError(name, op, contracts.ErrRateLimit, err)
		case se.Retryable():
			return contracts.NewProviderError(name, op, contracts.ErrTransientAPI, err)
		case se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusBadRequest:
			return contracts.NewProviderError(name, op, contracts.ErrUnsupported, err)
		default:
			return contracts.NewProviderError(name, op, contracts.ErrValidation, err)
		}
	}

	// network failures, timeouts, resets
	return contracts.NewProviderError(name, op, contracts.ErrTransientAPI, err)
}

// Invalid wraps a payload decoding or shape problem
func Invalid(name, op string, err error) error {
	return contracts.NewProviderError(name, op, contracts.ErrValidation, err)
}
