package feed

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch failure. The controller does not act on it,
// it is there for the layer that displays the failure.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindParse         ErrorKind = "parse"
	KindNotFound      ErrorKind = "not_found"
	KindRateLimited   ErrorKind = "rate_limited"
	KindCursorExpired ErrorKind = "cursor_expired"
	KindUnknown       ErrorKind = "unknown"
)

// FetchError is the only failure the controller surfaces
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a FetchError wrapping err
func NewFetchError(kind ErrorKind, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}

// AsFetchError returns err as a FetchError, wrapping it as KindUnknown when
// the fetcher returned something else
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindUnknown, Message: "fetcher returned an error", Err: err}
}

// IsKind reports whether err is a FetchError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
