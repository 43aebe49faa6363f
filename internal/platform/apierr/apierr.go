package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so errors.Is(err, ErrNotFound) holds for any not_found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeQuotaExceeded = "quota_exceeded"
	CodeRateLimited   = "rate_limited"
	CodeUnauthorized  = "unauthorized"
	CodeConflict      = "conflict"
	CodeInternal      = "internal_error"
)

var (
	ErrValidation    = &Error{Status: http.StatusBadRequest, Code: CodeValidation}
	ErrNotFound      = &Error{Status: http.StatusNotFound, Code: CodeNotFound}
	ErrQuotaExceeded = &Error{Status: http.StatusTooManyRequests, Code: CodeQuotaExceeded}
	ErrRateLimited   = &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited}
	ErrUnauthorized  = &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized}
	ErrConflict      = &Error{Status: http.StatusConflict, Code: CodeConflict}
)

func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Errorf(format, args...))
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf("%s not found", what))
}

func QuotaExceeded() *Error {
	return New(http.StatusTooManyRequests, CodeQuotaExceeded, errors.New("monthly message quota exceeded"))
}

func Unauthorized(msg string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, errors.New(msg))
}

// As unwraps err to the nearest *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}
