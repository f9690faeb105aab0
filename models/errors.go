package models

import (
	"errors"
	"fmt"
	"time"
)

// FetchErrorKind classifies transient candle source failures.
type FetchErrorKind string

const (
	FetchRateLimited     FetchErrorKind = "rate_limited"
	FetchNetworkError    FetchErrorKind = "network_error"
	FetchInvalidResponse FetchErrorKind = "invalid_response"
	FetchTimeout         FetchErrorKind = "timeout"
)

// FetchError wraps a candle source failure with its kind. RateLimited
// failures may carry the retry-after hint reported by the exchange.
type FetchError struct {
	Kind       FetchErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch failed: %s", e.Kind)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the fetch can succeed. Invalid
// responses are permanent: the same request yields the same payload.
func (e *FetchError) Retryable() bool {
	return e.Kind != FetchInvalidResponse
}

// NewFetchError builds a FetchError of the given kind.
func NewFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// InsufficientDataError reports an input shorter than the minimum window a
// component needs. It is always recoverable by supplying more history and is
// never resolved by silent truncation.
type InsufficientDataError struct {
	Op   string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d, have %d", e.Op, e.Need, e.Have)
}

// IsInsufficientData reports whether err wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}

// ConfigError reports an invalid parameter combination. It is fatal to the
// request and never retried.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Param, e.Reason)
}

// PipelineError wraps any stage failure with enough context to render a
// precise message: which instrument, timeframe and stage failed.
type PipelineError struct {
	Instrument string
	Timeframe  string
	Stage      string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s/%s stage %s: %v", e.Instrument, e.Timeframe, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
