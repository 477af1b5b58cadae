package bsky

import (
	"errors"
	"fmt"
)

// Kind classifies a failed remote call
type Kind string

const (
	KindAuth          Kind = "auth"
	KindNetwork       Kind = "network"
	KindProtocolShape Kind = "protocol_shape"
	KindNotFound      Kind = "not_found"
)

// Error is a failed remote call
type Error struct {
	Kind    Kind
	Op      string // XRPC method or "fetch"
	Status  int    // HTTP status, 0 when no response was received
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to work
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsNetwork reports whether err is a transport failure
func IsNetwork(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNetwork
}

// IsProtocolShape reports whether the remote answered with an unexpected shape
func IsProtocolShape(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindProtocolShape
}

// IsNotFound reports whether the requested handle or record does not exist
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// classify maps an XRPC error response to a Kind
func classify(status int, name string) Kind {
	switch name {
	case "AuthenticationRequired", "InvalidToken", "ExpiredToken", "AccountTakedown", "AuthFactorTokenRequired":
		return KindAuth
	case "NotFound", "ProfileNotFound", "RecordNotFound", "AccountNotFound":
		return KindNotFound
	}
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 400 && name == "InvalidRequest":
		// the AppView answers unknown actors and deleted posts this way
		return KindNotFound
	}
	return KindNetwork
}
