package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotFound is returned by lookups when no matching object exists
	ErrNotFound = errors.New("remote object not found")
	// ErrAuth marks failures to obtain an authenticated remote handle
	ErrAuth = errors.New("remote authentication failed")
	// ErrRetriesExhausted wraps the last transient error once the retry ceiling is reached
	ErrRetriesExhausted = errors.New("retries exhausted")
)

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its type
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// IsTransient reports whether err is a rate-limit, server-side or connection failure
// that may succeed when retried. Everything else is fatal to the single operation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// a per-request deadline is retryable, an operator cancel is not
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 || gerr.Code >= 500 {
			return true
		}
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
				return true
			}
		}
		return false
	}

	var herr httpStatusError
	if errors.As(err, &herr) {
		code := herr.HTTPStatusCode()
		return code == 429 || code >= 500
	}

	// FTP replies: 4xx is transient negative completion, 5xx permanent
	var perr *textproto.Error
	if errors.As(err, &perr) {
		return perr.Code >= 400 && perr.Code < 500
	}

	if isNetTimeout(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func isNetTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsAuthError reports whether err means the credentials were missing, invalid or revoked
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 401
	}
	var herr httpStatusError
	if errors.As(err, &herr) {
		code := herr.HTTPStatusCode()
		return code == 401 || code == 403
	}
	var perr *textproto.Error
	if errors.As(err, &perr) {
		return perr.Code == 530
	}
	return false
}
