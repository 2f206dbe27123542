package progression

import (
	"context"
	"sync"
	"time"
)

// Registry keeps one Engine per player, hydrated from the store on first use.
type Registry struct {
	store ProfileStore
	opts  []Option
	now   func() time.Time

	mu      sync.Mutex
	engines map[string]*registryEntry
}

type registryEntry struct {
	e        *Engine
	lastUsed time.Time
}

func NewRegistry(store ProfileStore, opts ...Option) *Registry {
	return &Registry{
		store:   store,
		opts:    opts,
		now:     time.Now,
		engines: make(map[string]*registryEntry),
	}
}

// Get returns the player's engine. A player without a stored profile starts from the
// defaults with the given identity. Other load errors are returned and nothing is cached,
// so the next call retries the load.
func (r *Registry) Get(ctx context.Context, ident Identity) (*Engine, error) {
	r.mu.Lock()
	if ent, ok := r.engines[ident.PlayerID]; ok {
		ent.lastUsed = r.now()
		r.mu.Unlock()
		return ent.e, nil
	}
	r.mu.Unlock()

	e := NewEngine(ident, r.store, r.opts...)
	if _, err := e.LoadFromRemote(ctx); err != nil && !IsNotFound(err) {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.engines[ident.PlayerID]; ok {
		existing.lastUsed = r.now()
		return existing.e, nil
	}
	r.engines[ident.PlayerID] = &registryEntry{e: e, lastUsed: r.now()}
	return e, nil
}

// Reload re-reads the stored profile for the player. A missing profile leaves the
// engine on its current state.
func (r *Registry) Reload(ctx context.Context, ident Identity) (Snapshot, error) {
	e, err := r.Get(ctx, ident)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := e.LoadFromRemote(ctx)
	if IsNotFound(err) {
		return snap, nil
	}
	return snap, err
}

// Sweep drops engines unused for idle that have no sync in flight and no subscriber.
// Their state is already mirrored, so the next Get hydrates from the store.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ent := range r.engines {
		if ent.lastUsed.After(cutoff) || ent.e.busy() {
			continue
		}
		delete(r.engines, id)
		n++
	}
	return n
}

// Len is the number of cached engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Wait blocks until every engine's pending syncs are done.
func (r *Registry) Wait() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, ent := range r.engines {
		engines = append(engines, ent.e)
	}
	r.mu.Unlock()
	for _, e := range engines {
		e.Wait()
	}
}
