package wire

import (
	"errors"
	"fmt"
)

// Error codes of the session protocol.
const (
	CodeValidation = "validation"
	CodePermission = "permission"
	CodeNotFound   = "notFound"
	CodeUpstream   = "upstream"
	CodeInternal   = "internal"
)

// Error is the structured error object surfaced to clients.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError reports a malformed payload, rejected before any
// mutation.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewPermissionError reports an operation attempted with an
// insufficient tier. No mutation has been performed.
func NewPermissionError(format string, args ...any) *Error {
	return &Error{Code: CodePermission, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an absent map or object.
func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewUpstreamError reports a routing or geocoder failure, surfaced only
// to the caller of that specific request.
func NewUpstreamError(format string, args ...any) *Error {
	return &Error{Code: CodeUpstream, Message: fmt.Sprintf(format, args...)}
}

// FromErr converts any error into a wire error, preserving a structured
// one and wrapping everything else as internal.
func FromErr(err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Code == CodePermission
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Code == CodeValidation
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Code == CodeNotFound
}
