package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when a document produces no chunks.
	ErrEmptyInput = errors.New("empty input")

	// ErrIndexBuild is returned when embedding or index construction fails.
	ErrIndexBuild = errors.New("index build failed")

	// ErrSessionNotFound is returned when persisted session artifacts are missing or corrupt.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRetrieval is returned when query embedding or index search fails.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration is returned when the language model fails to produce an answer.
	ErrGeneration = errors.New("answer generation failed")

	// ErrGroundingDegraded marks a render unit whose similarity could not be computed.
	ErrGroundingDegraded = errors.New("grounding degraded")
)

// Error carries the failing operation and session alongside an error kind.
type Error struct {
	Kind      error
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session=%s)", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError creates an Error of the given kind.
func NewError(kind error, op, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}
