// Package pipeline defines the error taxonomy shared by the crawl and
// ingest loops, so callers and tests can branch on failure class instead
// of log text.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

// Failure classes, one per unit of work.
const (
	// KindExtract covers failures turning raw HTML into records.
	KindExtract Kind = iota + 1
	// KindPersist covers store write/read failures during ingestion.
	KindPersist
	// KindFetch covers transport-level HTTP failures.
	KindFetch
	// KindCache covers page cache I/O failures.
	KindCache
)

// String names the kind for logs.
func (k Kind) String() string {
	switch k {
	case KindExtract:
		return "extract"
	case KindPersist:
		return "persist"
	case KindFetch:
		return "fetch"
	case KindCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Error wraps a failure with its class and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds a classified pipeline error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the failure class of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
