// Package memory is the in-process leaf adapter. Every step settles in the
// turn it runs in, so dispatches through it take the synchronous fast path.
package memory

import (
	"log/slog"
	"sync"

	"github.com/roach88/protoflow/internal/adapter"
	"github.com/roach88/protoflow/internal/flow"
)

// Adapter stores values in a map keyed by canonical key.
//
// Thread-safety: safe for concurrent use.
type Adapter struct {
	mu      sync.RWMutex
	entries map[string]any
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an empty adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		entries: make(map[string]any),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ adapter.Leaf = (*Adapter)(nil)

// Save stores (key, value) and resolves with value. When later
// implementations exist the write goes through to them and their outcome is
// the result.
func (a *Adapter) Save() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		k, err := a.key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		v, err := adapter.Payload(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		a.mu.Lock()
		a.entries[k] = v
		a.mu.Unlock()
		a.logger.Debug("memory save", "key", k)
		if d.Len() > 1 {
			return d.Advance()
		}
		d.Resolve(v)
		return nil
	}
}

// Find resolves with the value stored under key. On a miss it advances to
// the next implementation and keeps any non-nil value it finds. With no
// next implementation a miss resolves nil.
func (a *Adapter) Find() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		k, err := a.key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		a.mu.RLock()
		v, ok := a.entries[k]
		a.mu.RUnlock()
		if !ok {
			a.logger.Debug("memory miss", "key", k)
			next := d.Advance()
			next.Then(func(found any) {
				if found == nil {
					return
				}
				a.mu.Lock()
				a.entries[k] = found
				a.mu.Unlock()
			}, nil)
			return next
		}
		d.Resolve(v)
		return nil
	}
}

// Remove deletes key and resolves with whether it was present. Like Save it
// writes through to later implementations.
func (a *Adapter) Remove() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		k, err := a.key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		a.mu.Lock()
		_, ok := a.entries[k]
		delete(a.entries, k)
		a.mu.Unlock()
		if d.Len() > 1 {
			return d.Advance()
		}
		d.Resolve(ok)
		return nil
	}
}

// Len returns the number of stored entries.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Adapter) key(args []any) (string, error) {
	key, err := adapter.Key(args)
	if err != nil {
		return "", err
	}
	return adapter.KeyString(key)
}
