// Package service provides business logic for the devlog observability core:
// session and event stores, the chat import pipeline, and run tracking.
package service

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the service failure taxonomy. Handlers map these to
// HTTP statuses; callers branch with errors.Is.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDegraded means the backing store is unavailable and the operation
	// cannot be served (writes) or is served from cache (reads).
	ErrDegraded = errors.New("store degraded")
	// ErrInvalidState rejects an operation against an entity in the wrong
	// lifecycle state, such as ending an already-completed session.
	ErrInvalidState = errors.New("invalid state")
	// ErrPayloadTooLarge rejects a batch over the configured cap before any
	// item is written.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrValidation rejects malformed input.
	ErrValidation = errors.New("invalid input")
	// ErrInfrastructure wraps backend failures that are not the caller's
	// fault.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// ItemError records one failed item in a partially successful batch. The
// batch itself still commits; item errors are reported as values, not as the
// operation's error.
type ItemError struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`

	err error
}

func newItemError(index int, id string, err error) ItemError {
	return ItemError{Index: index, ID: id, Reason: err.Error(), err: err}
}

func (e ItemError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("item %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

func (e ItemError) Unwrap() error { return e.err }
