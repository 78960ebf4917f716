// Package derive provides the derived-value cache behind cached and async
// protocol methods.
package derive

import (
	"log/slog"
	"sync"

	"github.com/roach88/protoflow/internal/protocol"
)

// Memory is an in-process protocol.Cache.
//
// Entries are grouped by object so that a change to an object drops every
// value derived from it at once. Objects are keyed by protocol.IdentityKey,
// so targets that cannot be map keys themselves are cached by content.
//
// Thread-safety: safe for concurrent use. compute functions run outside the
// lock and may use the cache themselves.
type Memory struct {
	mu      sync.Mutex
	entries map[any]map[protocol.Token]any
	logger  *slog.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithLogger sets the logger used for invalidation messages.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[any]map[protocol.Token]any),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ protocol.Cache = (*Memory)(nil)

// Get returns the stored value for (obj, token).
func (m *Memory) Get(obj any, token protocol.Token) (any, bool) {
	key, ok := protocol.IdentityKey(obj)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key][token]
	return v, ok
}

// ComputeAndStore returns the stored value for (obj, token), computing and
// storing it first if there is none. If another caller stored a value while
// compute ran, that value wins.
func (m *Memory) ComputeAndStore(obj any, token protocol.Token, compute func() any) any {
	key, ok := protocol.IdentityKey(obj)
	if !ok {
		return compute()
	}
	if v, ok := m.Get(obj, token); ok {
		return v
	}

	v := compute()

	m.mu.Lock()
	defer m.mu.Unlock()
	byToken, ok := m.entries[key]
	if !ok {
		byToken = make(map[protocol.Token]any)
		m.entries[key] = byToken
	}
	if prev, ok := byToken[token]; ok {
		return prev
	}
	byToken[token] = v
	return v
}

// Invalidate drops the value for (obj, token).
func (m *Memory) Invalidate(obj any, token protocol.Token) {
	key, ok := protocol.IdentityKey(obj)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if byToken, ok := m.entries[key]; ok {
		delete(byToken, token)
		if len(byToken) == 0 {
			delete(m.entries, key)
		}
	}
}

// InvalidateAll drops every value derived from obj.
func (m *Memory) InvalidateAll(obj any) {
	key, ok := protocol.IdentityKey(obj)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of stored values.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byToken := range m.entries {
		n += len(byToken)
	}
	return n
}

// Track invalidates on t's value-changed notifications: an instance change
// drops the instance's entries, a type-level change drops the type's.
func (m *Memory) Track(t *protocol.Type) {
	t.On(protocol.EventValueChanged, func(n protocol.Notification) {
		var obj any = n.Type
		if n.Instance != nil {
			obj = n.Instance
		}
		m.logger.Debug("derived values invalidated", "type", t.Name(), "name", n.Name)
		m.InvalidateAll(obj)
	})
}
