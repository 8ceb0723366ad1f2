package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure. Each kind maps onto one response status.
type Kind int

const (
	Validation Kind = iota + 1
	Preprocess
	ModelUnavailable
	Inference
	Storage
	Persistence
	PoolExhausted
	NotFound
	Encoding
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Preprocess:
		return "preprocess"
	case ModelUnavailable:
		return "model_unavailable"
	case Inference:
		return "inference"
	case Storage:
		return "storage"
	case Persistence:
		return "persistence"
	case PoolExhausted:
		return "pool_exhausted"
	case NotFound:
		return "not_found"
	case Encoding:
		return "encoding"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by every Orchestrator operation. Message is stable and
// safe to show to clients; Details is optional extra context that is also
// safe to show. Err is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error

	clientFault bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) StatusCode() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Preprocess:
		if e.clientFault {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case NotFound:
		return http.StatusNotFound
	case PoolExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) withDetails(details string) *Error {
	e.Details = details
	return e
}

// KindOf returns the kind of a pipeline error, or zero for any other error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
