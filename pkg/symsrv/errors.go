package symsrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrPDBNotFound is returned when no element of a search path yields a matching PDB.
	ErrPDBNotFound = errors.New("matching pdb not found")
	// ErrSignatureMismatch is returned when a PDB does not carry the executable's GUID and age.
	ErrSignatureMismatch = errors.New("pdb signature does not match executable")
	// ErrInvalidPDB is returned when a symbol server answers with something that is not a PDB.
	ErrInvalidPDB = errors.New("response is not a pdb file")
	// ErrInvalidName is returned for PDB names that cannot form a store key.
	ErrInvalidName = errors.New("invalid pdb name")
)

// StatusError is a non-200 answer from a symbol server.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from a symbol server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether a failed download or lookup may succeed when
// repeated: timeouts, network failures, 429 and 5xx answers.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrInvalidPDB),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrNoCodeView),
		errors.Is(err, ErrSignatureMismatch):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func statusOf(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusErrorTimeout
	case errors.Is(err, ErrInvalidPDB):
		return StatusErrorInvalid
	case errors.As(err, &se):
		return categorizeHTTPStatusCode(se.StatusCode)
	default:
		return StatusErrorOther
	}
}

func categorizeHTTPStatusCode(statusCode int) string {
	switch {
	case statusCode == http.StatusNotFound:
		return StatusErrorNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusErrorUnauthorized
	case statusCode == http.StatusTooManyRequests:
		return StatusErrorRateLimited
	case statusCode >= 400 && statusCode < 500:
		return StatusErrorClientError
	case statusCode >= 500:
		return StatusErrorServerError
	default:
		return StatusErrorHTTPOther
	}
}
