// Package errs defines the error taxonomy shared by every component of the
// CLI and the mapping from error kinds to process exit codes. Errors that
// cross the HTTP boundary carry the correlation identifier of the request
// that produced them so failures can be traced across services.
package errs

import (
	"errors"
	"fmt"
)

// Kind partitions failures by the exit code they map to at the process
// boundary.
type Kind int

const (
	// KindValidation covers malformed local input: bad DID/URL/timestamp
	// format, missing required fields, undecodable response bodies.
	KindValidation Kind = iota
	// KindAuth covers a missing local identity and upstream 401/403.
	KindAuth
	// KindNetwork covers timeouts, connection failures, exhausted retries
	// and non-retryable upstream 4xx other than auth.
	KindNetwork
	// KindServer covers upstream 5xx after retries are exhausted.
	KindServer
	// KindFilesystem covers permission or IO failures on the key, session
	// or content-store files.
	KindFilesystem
)

// Exit codes forming the process boundary contract.
const (
	ExitOK         = 0
	ExitValidation = 2
	ExitAuth       = 3
	ExitNetwork    = 4
	ExitServer     = 5
)

// Error is the typed error raised by components whose failures are
// externally observable. CorrelationID is set for errors originating from
// an HTTP attempt chain; Status carries the upstream HTTP status code when
// one was received.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Status        int
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s (correlationId=%s)", msg, e.CorrelationID)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ExitCode maps an error to the documented process exit code. Unclassified
// errors are treated as validation failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if !errors.As(err, &e) {
		return ExitValidation
	}
	switch e.Kind {
	case KindAuth:
		return ExitAuth
	case KindNetwork:
		return ExitNetwork
	case KindServer:
		return ExitServer
	default:
		// Validation and filesystem failures share exit 2.
		return ExitValidation
	}
}
