// Package apperr defines the error taxonomy shared by the gateway, the
// cascade orchestrator, the event publisher and the HTTP layer.
package apperr

import (
	"errors"
	"strconv"
)

// Code is a machine-readable error class.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeStorage        Code = "storage"
	CodeEventTooLarge  Code = "event_too_large"
	CodePublishFailure Code = "publish_failure"
	CodeInvalid        Code = "invalid"
)

// Error carries a Code, the operation that failed and an optional cause.
type Error struct {
	Code      Code
	Op        string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrConflict       = &Error{Code: CodeConflict}
	ErrStorage        = &Error{Code: CodeStorage}
	ErrEventTooLarge  = &Error{Code: CodeEventTooLarge}
	ErrPublishFailure = &Error{Code: CodePublishFailure}
	ErrInvalid        = &Error{Code: CodeInvalid}
)

func NotFound(op, message string) error {
	return &Error{Code: CodeNotFound, Op: op, Message: message}
}

func Conflict(op string, err error) error {
	return &Error{Code: CodeConflict, Op: op, Message: "concurrent modification", Err: err}
}

func Storage(op string, err error, retryable bool) error {
	return &Error{Code: CodeStorage, Op: op, Message: "storage failure", Retryable: retryable, Err: err}
}

func EventTooLarge(op string, size, limit int) error {
	return &Error{Code: CodeEventTooLarge, Op: op, Message: sizeMessage(size, limit)}
}

func PublishFailure(op string, err error) error {
	return &Error{Code: CodePublishFailure, Op: op, Message: "publish failed", Retryable: true, Err: err}
}

func Invalid(op, message string, err error) error {
	return &Error{Code: CodeInvalid, Op: op, Message: message, Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the first *Error in err's chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func sizeMessage(size, limit int) string {
	return "event of " + strconv.Itoa(size) + " bytes exceeds batch limit of " + strconv.Itoa(limit) + " bytes"
}
