package protocol

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/ir"
)

type widget struct {
	ID    string
	Inner *gadget
}

type gadget struct {
	Name string
	Next any
}

// mapCache is a minimal Cache keyed by (object, token).
type mapCache struct {
	mu      sync.Mutex
	entries map[any]map[Token]any
	misses  int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[any]map[Token]any)}
}

func (c *mapCache) Get(obj any, tok Token) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[obj][tok]
	return v, ok
}

func (c *mapCache) Invalidate(obj any, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries[obj], tok)
}

func (c *mapCache) ComputeAndStore(obj any, tok Token, compute func() any) any {
	if v, ok := c.Get(obj, tok); ok {
		return v
	}
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	v := compute()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[obj] == nil {
		c.entries[obj] = make(map[Token]any)
	}
	c.entries[obj][tok] = v
	return v
}

// recordingTracer keeps trace records in memory.
type recordingTracer struct {
	calls    []ir.Call
	outcomes []ir.Outcome
}

func (r *recordingTracer) OnCall(c ir.Call) error {
	r.calls = append(r.calls, c)
	return nil
}

func (r *recordingTracer) OnOutcome(o ir.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	return NewRegistry(append([]RegistryOption{WithLogger(quietLogger())}, opts...)...)
}

func mustType(t *testing.T, r *Registry, name string, sample any) *Type {
	t.Helper()
	typ, err := r.DefineType(name, sample)
	require.NoError(t, err)
	return typ
}
