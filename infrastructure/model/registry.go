package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexera/go-perplex/internal/ports"
)

// State is the registry's load lifecycle position.
type State int32

const (
	// StateUnloaded means no load has succeeded and none is in flight.
	StateUnloaded State = iota

	// StateLoading means exactly one load is in flight; other callers
	// wait for its outcome instead of starting their own.
	StateLoading

	// StateReady means the model is loaded and shared by all callers.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Loader produces the language model. It is invoked at most once per
// load attempt, never concurrently with itself.
type Loader func(ctx context.Context) (ports.LanguageModel, error)

// loadAttempt carries the outcome of one load to every caller that
// joined it. done is closed exactly once, after model/err are set.
type loadAttempt struct {
	done  chan struct{}
	model ports.LanguageModel
	err   error
}

// Registry owns the process-wide model instance and guarantees the
// lazy-load contract: the first caller triggers the load, concurrent
// callers join that same attempt and share its outcome, and a failed
// attempt resets to unloaded so a later caller can retry.
type Registry struct {
	loader Loader

	mu      sync.Mutex
	state   State
	model   ports.LanguageModel
	attempt *loadAttempt
}

// NewRegistry builds an unloaded registry around the loader.
func NewRegistry(loader Loader) (*Registry, error) {
	if loader == nil {
		return nil, fmt.Errorf("registry requires a loader")
	}
	return &Registry{loader: loader, state: StateUnloaded}, nil
}

// State reports the current lifecycle position, for readiness probes.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Get returns the loaded model, triggering or joining a load as needed.
// Waiters abandon the wait when their context ends; the in-flight load
// itself keeps running so its result stays available to later callers.
func (r *Registry) Get(ctx context.Context) (ports.LanguageModel, error) {
	r.mu.Lock()
	switch r.state {
	case StateReady:
		m := r.model
		r.mu.Unlock()
		return m, nil

	case StateLoading:
		attempt := r.attempt
		r.mu.Unlock()
		return attempt.wait(ctx)

	default:
		attempt := &loadAttempt{done: make(chan struct{})}
		r.state = StateLoading
		r.attempt = attempt
		r.mu.Unlock()

		go r.load(attempt)
		return attempt.wait(ctx)
	}
}

func (a *loadAttempt) wait(ctx context.Context) (ports.LanguageModel, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
	}
	if a.err != nil {
		return nil, fmt.Errorf("load model: %w", a.err)
	}
	return a.model, nil
}

// load runs one attempt and settles the registry. It uses a background
// context so a caller giving up mid-load cannot poison the shared
// instance for everyone else.
func (r *Registry) load(attempt *loadAttempt) {
	start := time.Now()
	log.Info().Msg("loading language model")

	m, err := r.loader(context.Background())

	r.mu.Lock()
	if err != nil {
		r.state = StateUnloaded
		log.Error().Err(err).Msg("language model load failed")
	} else {
		r.state = StateReady
		r.model = m
		log.Info().Dur("elapsed", time.Since(start)).Msg("language model ready")
	}
	r.attempt = nil
	r.mu.Unlock()

	attempt.model = m
	attempt.err = err
	close(attempt.done)
}

// Close releases the model if one is loaded and returns the registry
// to the unloaded state. Close must not race an in-flight load.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	r.state = StateUnloaded
	return err
}
