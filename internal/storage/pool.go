package storage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// OpenFunc connects to the store named by a locator.
type OpenFunc func(ctx context.Context, raw string, opts Options) (ObjectStore, Locator, error)

type pooled struct {
	store ObjectStore
	loc   Locator
}

// Pool opens each locator once and shares the store between callers.
//
// Stores returned by a pool are paced by a single limiter and are closed by [Pool.Close], not by callers.
type Pool struct {
	opts    Options
	open    OpenFunc
	limiter *rate.Limiter

	mu     sync.Mutex
	stores map[string]pooled
}

// NewPool creates a pool using [Open] and pacing calls to rps requests per second.
func NewPool(opts Options, rps float64) *Pool {
	return NewPoolWith(Open, opts, rps)
}

// NewPoolWith creates a pool with a custom open function.
func NewPoolWith(open OpenFunc, opts Options, rps float64) *Pool {
	return &Pool{opts: opts, open: open, limiter: NewLimiter(rps), stores: make(map[string]pooled)}
}

// Get returns the store for raw, opening it on first use.
func (p *Pool) Get(ctx context.Context, raw string) (ObjectStore, Locator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[raw]; ok {
		return s.store, s.loc, nil
	}
	store, loc, err := p.open(ctx, raw, p.opts)
	if err != nil {
		return nil, Locator{}, err
	}
	s := pooled{store: Paced(store, p.limiter), loc: loc}
	p.stores[raw] = s
	return s.store, s.loc, nil
}

// Close closes every opened store.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for raw, s := range p.stores {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.stores, raw)
	}
	return errors.Join(errs...)
}
