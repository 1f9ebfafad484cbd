package models

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError is a transient transport failure; it is retried with backoff.
type NetworkError struct {
	Err        error
	StatusCode int
	Timeout    bool
}

func (e NetworkError) Error() string {
	if e.Timeout {
		return fmt.Errorf("network timeout: %w", e.Err).Error()
	}
	if e.StatusCode != 0 {
		return fmt.Errorf("network status %d: %w", e.StatusCode, e.Err).Error()
	}
	return fmt.Errorf("network: %w", e.Err).Error()
}

func (e NetworkError) Unwrap() error {
	return e.Err
}

// BlockedError is an anti-bot challenge or login wall response.
type BlockedError struct {
	Platform Platform
	Reason   string
	Err      error
}

func (e BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s: %s", e.Platform, e.Reason)
}

func (e BlockedError) Unwrap() error {
	return e.Err
}

// NotFoundError is a permanent missing page (HTTP 404/410).
type NotFoundError struct {
	URL string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not_found: %s", e.URL)
}

// BreakerOpenError is returned without network I/O while a platform breaker is open.
type BreakerOpenError struct {
	Platform Platform
	RetryAt  time.Time
}

func (e BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Platform, e.RetryAt.Format(time.RFC3339))
}

// ParseError means no extraction strategy produced usable data. It is
// absorbed and surfaces as a degraded quality tier.
type ParseError struct {
	Platform Platform
	URL      string
	Field    string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s: no strategy produced %s for %s", e.Platform, e.Field, e.URL)
}

// ImageFetchError is a per-candidate image failure.
type ImageFetchError struct {
	URL string
	Err error
}

func (e ImageFetchError) Error() string {
	return fmt.Errorf("image %s: %w", e.URL, e.Err).Error()
}

func (e ImageFetchError) Unwrap() error {
	return e.Err
}

// StoreError is a persistence failure; the task is retried on the next pass.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Errorf("store %s: %w", e.Op, e.Err).Error()
}

func (e StoreError) Unwrap() error {
	return e.Err
}

// UnreachableError is the single bounded error reported to on-demand callers
// once the retry budget is spent.
type UnreachableError struct {
	URL      string
	Attempts int
	Err      error
}

func (e UnreachableError) Error() string {
	return fmt.Errorf("target %s unreachable after %d attempts: %w", e.URL, e.Attempts, e.Err).Error()
}

func (e UnreachableError) Unwrap() error {
	return e.Err
}

// IsBreakerOpen reports whether err came from an open circuit breaker.
func IsBreakerOpen(err error) bool {
	var target BreakerOpenError
	return errors.As(err, &target)
}

// IsRetryable reports whether err should consume another attempt.
func IsRetryable(err error) bool {
	var network NetworkError
	return errors.As(err, &network)
}

// ErrorKind returns a stable label for logs and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var breaker BreakerOpenError
	if errors.As(err, &breaker) {
		return "breaker_open"
	}
	var blocked BlockedError
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var notFound NotFoundError
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var unreachable UnreachableError
	if errors.As(err, &unreachable) {
		return "unreachable"
	}
	var network NetworkError
	if errors.As(err, &network) {
		if network.Timeout {
			return "timeout"
		}
		if network.StatusCode != 0 {
			return "http_status"
		}
		return "network"
	}
	var parse ParseError
	if errors.As(err, &parse) {
		return "parse"
	}
	var image ImageFetchError
	if errors.As(err, &image) {
		return "image_fetch"
	}
	var store StoreError
	if errors.As(err, &store) {
		return "store"
	}
	return "other"
}
