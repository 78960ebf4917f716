// Package adapter holds what the leaf adapters share: the save/find/remove
// method set, argument decoding and binding onto a registry.
//
// A leaf adapter supplies async_flow steps. A find step that misses calls
// Advance, so adapters bound at different priorities form a read-through
// chain: a memory adapter in front of a SQLite adapter answers from memory
// and falls back to the database.
package adapter

import (
	"errors"
	"fmt"

	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
)

// Method names a leaf adapter implements.
const (
	MethodSave   = "save"
	MethodFind   = "find"
	MethodRemove = "remove"
)

// ErrMissingArgument is the reason of a step called without its key or value.
var ErrMissingArgument = errors.New("adapter: missing argument")

// Leaf provides the async_flow steps of one adapter.
type Leaf interface {
	Save() flow.DeferredStep
	Find() flow.DeferredStep
	Remove() flow.DeferredStep
}

// Bind implements every save/find/remove method p declares on t with the
// matching step of leaf. Methods p does not declare are skipped; at least one
// must be declared.
func Bind(reg *protocol.Registry, t *protocol.Type, p *protocol.Protocol, leaf Leaf, opts ...protocol.ImplOption) error {
	steps := map[string]flow.DeferredStep{
		MethodSave:   leaf.Save(),
		MethodFind:   leaf.Find(),
		MethodRemove: leaf.Remove(),
	}
	bound := 0
	for _, name := range []string{MethodSave, MethodFind, MethodRemove} {
		if _, ok := p.LookupMethod(name); !ok {
			continue
		}
		if err := reg.Implement(t, p, name, steps[name], opts...); err != nil {
			return fmt.Errorf("bind %s.%s: %w", p.Name(), name, err)
		}
		bound++
	}
	if bound == 0 {
		return fmt.Errorf("bind %s: protocol declares none of save, find, remove", p.Name())
	}
	return nil
}

// Key converts args[0] to a record key.
func Key(args []any) (ir.Value, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: key", ErrMissingArgument)
	}
	key, err := ir.FromGo(args[0])
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	return key, nil
}

// KeyString returns the canonical JSON of key, usable as a map key.
func KeyString(key ir.Value) (string, error) {
	data, err := ir.MarshalCanonical(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Payload returns args[1], the value to save.
func Payload(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: value", ErrMissingArgument)
	}
	return args[1], nil
}
