package provider

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Multi broadcasts every Put to all member providers concurrently.
// Members are added during startup only; Put may then be called from many
// goroutines.
type Multi struct {
	providers []Provider
}

// NewMulti returns an empty set.
func NewMulti() *Multi {
	return &Multi{}
}

// Add appends a destination.
func (m *Multi) Add(p Provider) {
	m.providers = append(m.providers, p)
}

func (m *Multi) Len() int { return len(m.providers) }

func (m *Multi) IsEmpty() bool { return len(m.providers) == 0 }

// Names lists the member destinations in insertion order.
func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

func (m *Multi) Name() string { return "multi" }

// Close releases members holding long-lived clients (those implementing
// io.Closer). Every member is closed even when one fails.
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.providers {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, &Error{Destination: p.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Put sends (path, data) to every member and waits for all of them.
// A failing member never cancels its siblings. The result is nil only when
// every member succeeded; otherwise a *MultiError lists each failure while
// the successful members keep their copy.
func (m *Multi) Put(ctx context.Context, path string, data []byte) error {
	if len(m.providers) == 0 {
		return ErrNoProviders
	}

	errs := make([]error, len(m.providers))
	var wg sync.WaitGroup
	for i, p := range m.providers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = putOne(ctx, p, path, data)
		}()
	}
	wg.Wait()

	var failed []*Error
	for i, err := range errs {
		if err == nil {
			continue
		}
		var pe *Error
		if !errors.As(err, &pe) || pe.Destination != m.providers[i].Name() {
			pe = &Error{Destination: m.providers[i].Name(), Err: err}
		}
		failed = append(failed, pe)
	}
	if len(failed) > 0 {
		return &MultiError{Errors: failed, Total: len(m.providers)}
	}
	return nil
}

func putOne(ctx context.Context, p Provider, path string, data []byte) error {
	start := time.Now()
	err := p.Put(ctx, path, data)
	if err != nil {
		log.Warn().
			Err(err).
			Str("action", "put").
			Str("destination", p.Name()).
			Str("path", path).
			Dur("elapsed_ms", time.Since(start)).
			Msg("destination upload failed")
		return err
	}
	log.Debug().
		Str("action", "put").
		Str("destination", p.Name()).
		Str("path", path).
		Int("bytes", len(data)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("destination upload OK")
	return nil
}
