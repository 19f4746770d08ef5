package contracts

import (
	"errors"
	"fmt"
)

// Error kinds shared across the data layer and the orchestrator.
// ⭐ SSOT: every layer checks failures with errors.Is against these
var (
	ErrRateLimit               = errors.New("rate limit exceeded")
	ErrTransientAPI            = errors.New("transient api error")
	ErrValidation              = errors.New("validation failed")
	ErrUnsupported             = errors.New("operation not supported by provider")
	ErrNoProviderAvailable     = errors.New("no provider available")
	ErrSnapshotWrite           = errors.New("snapshot write failed")
	ErrAnalystFailure          = errors.New("analyst failure")
	ErrRiskGateFailure         = errors.New("risk gate failure")
	ErrPortfolioManagerFailure = errors.New("portfolio manager failure")
	ErrPrecondition            = errors.New("precondition violated")
)

// ProviderError wraps an upstream failure with the provider and operation that produced it.
// Kind is one of the sentinel errors above.
type ProviderError struct {
	Provider string
	Op       string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s: %v", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s.%s: %v: %v", e.Provider, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProviderError builds a ProviderError
func NewProviderError(provider, op string, kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether the retry wrapper should try the same provider again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransientAPI)
}
