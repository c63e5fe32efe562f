package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviders is returned by Multi.Put when nothing was added.
var ErrNoProviders = errors.New("no providers configured")

// Error is a single destination's failure.
type Error struct {
	Destination string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Destination, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MultiError aggregates every failed destination of one fan-out.
// Destinations absent from Errors received the artifact.
type MultiError struct {
	Errors []*Error
	// Total is the number of destinations the artifact was sent to.
	Total int
}

func (e *MultiError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("upload failed on %d of %d destinations: %s",
		len(e.Errors), e.Total, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is/As inspect each destination's error.
func (e *MultiError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err)
	}
	return out
}

// Failed returns the names of the destinations that failed.
func (e *MultiError) Failed() []string {
	names := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		names = append(names, err.Destination)
	}
	return names
}
