package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InvalidChainError is returned when a transaction or seed does not belong
// to the chain being traced. Fatal to that transaction only.
type InvalidChainError struct {
	Expected ChainID
	Got      ChainID
	TxHash   string
}

func (e *InvalidChainError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("invalid chain: expected %s, got %s", e.Expected, e.Got)
	}
	return fmt.Sprintf("invalid chain for tx %s: expected %s, got %s", e.TxHash, e.Expected, e.Got)
}

// AdapterUnavailableError wraps transport or upstream failures of a chain adapter
type AdapterUnavailableError struct {
	Chain   ChainID
	Address string
	Err     error
}

func (e *AdapterUnavailableError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s adapter unavailable: %v", e.Chain, e.Err)
	}
	return fmt.Sprintf("%s adapter unavailable for %s: %v", e.Chain, e.Address, e.Err)
}

func (e *AdapterUnavailableError) Unwrap() error { return e.Err }

// RateLimitedError is returned when an upstream API throttles the adapter.
// RetryAfter is zero when the provider gave no hint.
type RateLimitedError struct {
	Chain      ChainID
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s adapter rate limited", e.Chain)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// UnrecognizedFormatError means an address string matched no supported chain
type UnrecognizedFormatError struct {
	Input  string
	Reason string
}

func (e *UnrecognizedFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unrecognized address format: %q", e.Input)
	}
	return fmt.Sprintf("unrecognized address format %q: %s", e.Input, e.Reason)
}

// ConfigurationError is returned at construction time for invalid settings.
// Values are never clamped silently.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether err is a branch-level adapter failure
// (unavailable upstream or rate limiting).
func IsRetryable(err error) bool {
	var unavailable *AdapterUnavailableError
	var limited *RateLimitedError
	return errors.As(err, &unavailable) || errors.As(err, &limited)
}

// Warning reasons recorded on PartialTraceWarning
const (
	ReasonRateLimited = "rate_limited"
	ReasonUnavailable = "adapter_unavailable"
	ReasonCancelled   = "cancelled"
	ReasonFetchError  = "fetch_error"
)

// PartialTraceWarning records a branch the tracer could not expand.
// The trace continues; the warning surfaces in the opinion as a coverage gap.
type PartialTraceWarning struct {
	Address Address `json:"address"`
	Hop     int     `json:"hop"`
	Reason  string  `json:"reason"`
	Message string  `json:"message"`
	Err     error   `json:"-"`
}

// NewPartialTraceWarning classifies err into a warning reason
func NewPartialTraceWarning(addr Address, hop int, err error) PartialTraceWarning {
	reason := ReasonFetchError
	var limited *RateLimitedError
	var unavailable *AdapterUnavailableError
	switch {
	case errors.As(err, &limited):
		reason = ReasonRateLimited
	case errors.As(err, &unavailable):
		reason = ReasonUnavailable
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = ReasonCancelled
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return PartialTraceWarning{Address: addr, Hop: hop, Reason: reason, Message: msg, Err: err}
}

func (w PartialTraceWarning) Error() string {
	return fmt.Sprintf("partial trace at %s (hop %d): %s", w.Address, w.Hop, w.Message)
}

func (w PartialTraceWarning) Unwrap() error { return w.Err }

// ErrCancelled marks branches skipped because the investigation was cancelled
var ErrCancelled = errors.New("investigation cancelled")
