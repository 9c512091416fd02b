package router

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNoProvider    Code = "no_provider_available"
	CodeUnreachable   Code = "provider_unreachable"
	CodeEmptyResponse Code = "empty_response"
)

// Error is a soft failure tagged with the backend that produced it.
type Error struct {
	Code     Code
	Provider Kind
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Provider, e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of a router error, or "" for anything else.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
