package export

import (
	"errors"
)

// Kind tags an Error with its place in the export error taxonomy.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindSelectionLimit    Kind = "selection_limit_exceeded"
	KindMinimumSelection  Kind = "minimum_selection_violation"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindTransport         Kind = "transport"
	KindEmptyResult       Kind = "empty_result"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindPreview           Kind = "preview"
)

// Validation rule errors. Each is wrapped in an *Error of KindValidation.
var (
	ErrNoSelection        = errors.New("select at least one location")
	ErrMissingDateRange   = errors.New("select a start and end date")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrHourlyRangeTooLong = errors.New("hourly data is limited to 180 days")
	ErrNoPollutants       = errors.New("select at least one pollutant")
	ErrNoResolvedSites    = errors.New("no monitoring sites found for the selected area")
	ErrNothingToRetry     = errors.New("no failed download to retry")
	ErrInvalidField       = errors.New("invalid configuration value")
)

// State machine rejections.
var (
	ErrSelectionLimitExceeded = errors.New("selection limit reached")
	ErrMinimumSelection       = errors.New("at least one item must stay selected")
)

// Error is the normalized error reported by every export operation.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of the given kind around err.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(field string, err error) *Error {
	return &Error{Kind: KindValidation, Field: field, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an export error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsCancelled reports whether err is a cancellation. Cancellations are never
// reported to the user.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether resubmitting the same request may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransport:
		return true
	case KindPreview:
		var e *Error
		if errors.As(err, &e) && e.Err != nil {
			return IsRetryable(e.Err)
		}
	}
	return false
}
