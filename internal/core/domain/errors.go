package domain

import (
	"errors"
	"fmt"
)

// ErrorType categorizes engine errors into the closed taxonomy the
// caller branches on.
type ErrorType string

const (
	// ErrorTypeUnauthorized indicates the API key was rejected.
	ErrorTypeUnauthorized ErrorType = "unauthorized"

	// ErrorTypeNotFound indicates no paywall or config exists for the request.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeDecoding indicates a response body could not be decoded.
	ErrorTypeDecoding ErrorType = "decoding"

	// ErrorTypeNetwork indicates an unclassified transport failure.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeConfigUnavailable indicates no config snapshot has loaded yet.
	ErrorTypeConfigUnavailable ErrorType = "config_unavailable"

	// ErrorTypeAlreadyPresented indicates another paywall is on screen.
	ErrorTypeAlreadyPresented ErrorType = "already_presented"

	// ErrorTypeNotPresentable indicates the fetched definition cannot render.
	ErrorTypeNotPresentable ErrorType = "not_presentable"
)

// EngineError is the canonical error carried through the presentation
// pipeline and surfaced in Failed states.
type EngineError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// NewError builds an EngineError of the given type.
func NewError(t ErrorType, msg string) *EngineError {
	return &EngineError{Type: t, Message: msg}
}

// WrapError builds an EngineError wrapping a cause.
func WrapError(t ErrorType, msg string, cause error) *EngineError {
	return &EngineError{Type: t, Message: msg, Cause: cause}
}

// IsErrorType reports whether err is an EngineError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Type == t
	}
	return false
}

// Sentinel network errors, matched with errors.Is. The network client
// maps HTTP failures onto these before they enter the pipeline.
var (
	ErrUnauthorized = NewError(ErrorTypeUnauthorized, "api key was rejected")
	ErrNotFound     = NewError(ErrorTypeNotFound, "resource not found")
	ErrDecoding     = NewError(ErrorTypeDecoding, "response decoding failed")
	ErrUnknown      = NewError(ErrorTypeNetwork, "request failed")
)
