package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrListingUnavailable means the first catalog page could not be fetched,
// so no product could be discovered and nothing is exported.
var ErrListingUnavailable = errors.New("listing unavailable")

// The typed errors below wrap a transport or HTTP failure and carry the
// label used for error_type metrics and the run summary.

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct{ Err error }

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct{ Err error }

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct{ Err error }

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct{ Err error }

// ErrRateLimited indicates the target rate-limited the request (HTTP 429).
type ErrRateLimited struct{ Err error }

// ErrServer indicates a 5xx response from the target.
type ErrServer struct{ Err error }

func (e ErrTimeout) errorType() string     { return "timeout" }
func (e ErrConnection) errorType() string  { return "connection" }
func (e ErrForbidden) errorType() string   { return "forbidden" }
func (e ErrNotFound) errorType() string    { return "not_found" }
func (e ErrRateLimited) errorType() string { return "rate_limited" }
func (e ErrServer) errorType() string      { return "server" }

func (e ErrTimeout) Error() string     { return describe(e) }
func (e ErrConnection) Error() string  { return describe(e) }
func (e ErrForbidden) Error() string   { return describe(e) }
func (e ErrNotFound) Error() string    { return describe(e) }
func (e ErrRateLimited) Error() string { return describe(e) }
func (e ErrServer) Error() string      { return describe(e) }

func (e ErrTimeout) Unwrap() error     { return e.Err }
func (e ErrConnection) Unwrap() error  { return e.Err }
func (e ErrForbidden) Unwrap() error   { return e.Err }
func (e ErrNotFound) Unwrap() error    { return e.Err }
func (e ErrRateLimited) Unwrap() error { return e.Err }
func (e ErrServer) Unwrap() error      { return e.Err }

type typedError interface {
	error
	errorType() string
	Unwrap() error
}

func describe(e typedError) string {
	if inner := e.Unwrap(); inner != nil {
		return e.errorType() + ": " + inner.Error()
	}
	return e.errorType()
}

// errorTypeLabel maps err to the label reported in metrics and summaries.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var typed typedError
	if errors.As(err, &typed) {
		return typed.errorType()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch errorTypeLabel(err) {
	case "timeout", "connection", "rate_limited", "server":
		return true
	default:
		return false
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}
