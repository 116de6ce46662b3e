// Package nserrors defines the tagged-variant error kinds that cross every
// NodeSpace service boundary. Core operations never panic on expected
// failures; they return one of these so callers (and ultimately the MCP
// transport) can translate deterministically.
package nserrors

import (
	"errors"
	"fmt"
)

// Kind tags an error with its taxonomy bucket (see spec §7).
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindHierarchyViolation Kind = "hierarchy_violation"
	KindVersionConflict    Kind = "version_conflict"
	KindDatabase           Kind = "database_error"
	KindEmbedding          Kind = "embedding_error"
	KindProtocol           Kind = "protocol_error"
)

// Error is the common shape for every terminal NodeSpace error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation wraps a bad-input-shape or schema-violation failure.
func Validation(msg string, args ...interface{}) *Error {
	return new_(KindValidation, fmt.Sprintf(msg, args...), nil)
}

// NotFound wraps a missing node/schema/relationship lookup.
func NotFound(msg string, args ...interface{}) *Error {
	return new_(KindNotFound, fmt.Sprintf(msg, args...), nil)
}

// HierarchyViolation wraps a cycle, root-mismatch, or illegal-sibling failure.
func HierarchyViolation(msg string, args ...interface{}) *Error {
	return new_(KindHierarchyViolation, fmt.Sprintf(msg, args...), nil)
}

// Database wraps an IO/serialization failure from the store.
func Database(msg string, err error) *Error {
	return new_(KindDatabase, msg, err)
}

// Embedding wraps a tokenization/inference/dimension failure.
func Embedding(msg string, err error) *Error {
	return new_(KindEmbedding, msg, err)
}

// Protocol wraps a JSON-RPC transport-level failure.
func Protocol(msg string, args ...interface{}) *Error {
	return new_(KindProtocol, fmt.Sprintf(msg, args...), nil)
}

// VersionConflictError carries the data a caller needs to present a merge UI.
// It is its own type (rather than *Error) because it must carry the current
// node payload, which is domain data the generic Error.Err slot can't type.
type VersionConflictError struct {
	Expected    int
	Actual      int
	CurrentNode interface{}
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: expected version %d, actual %d", KindVersionConflict, e.Expected, e.Actual)
}

func NewVersionConflict(expected, actual int, currentNode interface{}) *VersionConflictError {
	return &VersionConflictError{Expected: expected, Actual: actual, CurrentNode: currentNode}
}

// KindOf returns the Kind of err, walking Unwrap chains, or "" if err does
// not originate from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var v *VersionConflictError
	if errors.As(err, &v) {
		return KindVersionConflict
	}
	return ""
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
