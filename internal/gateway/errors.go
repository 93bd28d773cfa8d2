package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is wrapped by a FetchError when the store has no such record.
var ErrNotFound = errors.New("record not found")

// FetchError reports a transport failure or a non-success status from the
// record store. Status is 0 when the request never got a response.
type FetchError struct {
	Op         string
	Collection string
	Key        string
	Status     int
	Err        error
}

func (e *FetchError) Error() string {
	target := e.Collection
	if e.Key != "" {
		target += "/" + e.Key
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
	}
	return fmt.Sprintf("%s %s: %d %s: %v", e.Op, target, e.Status, http.StatusText(e.Status), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transport reports whether the request failed before a response arrived.
func (e *FetchError) Transport() bool { return e.Status == 0 }

// ConflictError is returned when the store rejects a write because of a
// uniqueness or state conflict, such as a duplicate key.
type ConflictError struct {
	Collection string
	Key        string
	Message    string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "already exists"
	}
	return fmt.Sprintf("conflict on %s/%s: %s", e.Collection, e.Key, msg)
}

// ListingError is returned when a directory query yields an error envelope
// or a payload that cannot be decoded. Remote is true when the message came
// from the lister itself.
type ListingError struct {
	Status  int
	Message string
	Remote  bool
	Err     error
}

func (e *ListingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory listing failed (%d): %s", e.Status, e.Message)
	}
	return "directory listing failed: " + e.Message
}

func (e *ListingError) Unwrap() error { return e.Err }

// AsFetch extracts a *FetchError from an error chain.
func AsFetch(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// AsConflict extracts a *ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsListing extracts a *ListingError from an error chain.
func AsListing(err error) (*ListingError, bool) {
	var le *ListingError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsTransport reports whether err is a network-level failure: no response,
// or the caller's deadline expired.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if fe, ok := AsFetch(err); ok && fe.Transport() {
		return true
	}
	if le, ok := AsListing(err); ok && !le.Remote && le.Status == 0 && le.Err != nil {
		return IsTransport(le.Err) || errors.Is(le.Err, context.DeadlineExceeded)
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsRemote reports whether err was reported by the remote application
// rather than the network.
func IsRemote(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsConflict(err); ok {
		return true
	}
	if le, ok := AsListing(err); ok {
		return le.Remote || le.Status != 0
	}
	if fe, ok := AsFetch(err); ok {
		return !fe.Transport()
	}
	return false
}
