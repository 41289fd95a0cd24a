// Package apperr defines the typed errors returned by the routing engine.
// Services return these, and the API layer maps them to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration means an enabled KPI is missing a required field mapping
	// or the weight budget is invalid. Runs refuse to start.
	KindConfiguration
	// KindNoEligibleAgents means the eligibility filter removed every candidate for a lead.
	KindNoEligibleAgents
	// KindConflict means the proposal changed since it was read.
	KindConflict
	// KindTerminal means the proposal is REJECTED or APPLIED and can no longer change.
	KindTerminal
	// KindWriteBack means the external write-back failed or timed out. Retryable.
	KindWriteBack
	KindNotFound
	KindValidation
	KindInternal
	// KindPreconditionRequired means a human action arrived without the
	// proposal version the caller last saw.
	KindPreconditionRequired
)

var kindNames = map[Kind]string{
	KindUnknown:          "UNKNOWN",
	KindConfiguration:    "CONFIGURATION_ERROR",
	KindNoEligibleAgents: "NO_ELIGIBLE_AGENTS",
	KindConflict:         "CONCURRENCY_CONFLICT",
	KindTerminal:         "TERMINAL_PROPOSAL",
	KindWriteBack:        "WRITE_BACK_FAILURE",
	KindNotFound:         "NOT_FOUND",
	KindValidation:       "VALIDATION_ERROR",
	KindInternal:         "INTERNAL",

	KindPreconditionRequired: "PRECONDITION_REQUIRED",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// MarshalText renders the kind as its wire code.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText maps unknown codes to KindUnknown.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	*k = KindUnknown
	return nil
}

// Error is a domain error with a Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
	Details interface{}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindTerminal:
		return http.StatusConflict
	case KindConfiguration, KindNoEligibleAgents:
		return http.StatusUnprocessableEntity
	case KindWriteBack:
		return http.StatusBadGateway
	case KindPreconditionRequired:
		return http.StatusPreconditionRequired
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the failing operation.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails attaches response details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

func Configuration(message string) *Error { return New(KindConfiguration, message) }
func NoEligibleAgents(message string) *Error { return New(KindNoEligibleAgents, message) }
func Conflict(message string) *Error      { return New(KindConflict, message) }
func Terminal(message string) *Error      { return New(KindTerminal, message) }
func NotFound(message string) *Error      { return New(KindNotFound, message) }
func Validation(message string) *Error    { return New(KindValidation, message) }
func Internal(message string) *Error      { return New(KindInternal, message) }

func PreconditionRequired(message string) *Error { return New(KindPreconditionRequired, message) }

// WriteBack wraps a failed write-back.
func WriteBack(err error) *Error {
	return Wrap(KindWriteBack, "write-back failed", err)
}

// GetKind extracts the kind from anywhere in the error chain.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && GetKind(err) == kind
}
