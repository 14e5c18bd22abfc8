package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a symbol is unknown to the store.
var ErrNotFound = errors.New("not found")

// TransportError reports a failed page fetch: network failure, non-2xx
// status or too many redirects.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports structural drift in a fetched page.
type ParseError struct {
	Page   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse page %d: %s: %v", e.Page, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse page %d: %s", e.Page, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
