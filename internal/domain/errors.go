package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by session drivers and routing.
type ErrorKind string

const (
	KindInitialization    ErrorKind = "INIT_FAILED"
	KindInputNotFound     ErrorKind = "INPUT_NOT_FOUND"
	KindResponseTimeout   ErrorKind = "TIMEOUT"
	KindResponseFailed    ErrorKind = "RESPONSE_FAILED"
	KindTargetUnavailable ErrorKind = "TARGET_UNAVAILABLE"
	KindNotInitialized    ErrorKind = "NOT_INITIALIZED"
)

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the short code relayed to the user in apology messages.
func (e *Error) Code() string { return string(e.Kind) }

// NewError builds a kinded error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the kind attached anywhere in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
