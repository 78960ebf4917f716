package harness

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/protoflow/internal/adapter"
	memadapter "github.com/roach88/protoflow/internal/adapter/memory"
	sqladapter "github.com/roach88/protoflow/internal/adapter/sqlite"
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/protocol"
)

// handler builds implementations for one catalog entry. Exactly one of
// method and leaf is set: method handlers bind "Type.Protocol.method" refs,
// leaf handlers bind a storage adapter to a whole "Type.Protocol" ref.
type handler struct {
	method func(h *Harness, mode protocol.Mode, with map[string]any) (any, error)
	leaf   func(h *Harness, with map[string]any) (adapter.Leaf, error)
}

var handlers = map[string]handler{
	"const":   {method: constHandler},
	"echo":    {method: echoHandler},
	"veto":    {method: vetoHandler},
	"advance": {method: advanceHandler},
	"reject":  {method: rejectHandler},
	"counter": {method: counterHandler},
	"pending": {method: pendingHandler},
	"memory":  {leaf: memoryLeaf},
	"sqlite":  {leaf: sqliteLeaf},
}

// Handlers returns the catalog names in sorted order.
func Handlers() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type valueConfig struct {
	Value any  `mapstructure:"value"`
	Later bool `mapstructure:"later"`
}

type rejectConfig struct {
	Message string `mapstructure:"message"`
	Later   bool   `mapstructure:"later"`
}

type advanceConfig struct {
	Later bool `mapstructure:"later"`
}

type counterConfig struct {
	Start int64 `mapstructure:"start"`
	Later bool  `mapstructure:"later"`
}

type memoryConfig struct {
	Name string `mapstructure:"name"`
}

type sqliteConfig struct {
	Collection string `mapstructure:"collection"`
}

func decodeWith(with map[string]any, out any) error {
	if len(with) == 0 {
		return nil
	}
	if err := mapstructure.Decode(with, out); err != nil {
		return fmt.Errorf("decode with: %w", err)
	}
	return nil
}

func unsupported(name string, mode protocol.Mode) error {
	return fmt.Errorf("handler %q does not support mode %s", name, mode)
}

// later runs fn now, or on the next loop turn when deferred is set.
func (h *Harness) later(deferred bool, fn func()) {
	if deferred && h.loop.Post(fn) {
		return
	}
	fn()
}

// const returns a fixed value in every mode.
func constHandler(h *Harness, mode protocol.Mode, with map[string]any) (any, error) {
	var cfg valueConfig
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}
	v := cfg.Value

	switch mode {
	case protocol.ModeSingle, protocol.ModeAll:
		return protocol.Func(func(any, ...any) any { return v }), nil
	case protocol.ModeFlow:
		return flow.Step(func(*flow.Pipeline, ...any) any { return v }), nil
	case protocol.ModeAsyncFlow:
		return flow.DeferredStep(func(d *flow.Deferred, _ ...any) any {
			h.later(cfg.Later, func() { d.Resolve(v) })
			return nil
		}), nil
	case protocol.ModeCached:
		return protocol.ComputeFunc(func(any) any { return v }), nil
	default:
		return protocol.AsyncComputeFunc(func(any) *flow.Future {
			f := flow.NewFuture()
			h.later(cfg.Later, func() { f.Resolve(v) })
			return f
		}), nil
	}
}

// echo returns the first argument.
func echoHandler(h *Harness, mode protocol.Mode, _ map[string]any) (any, error) {
	first := func(args []any) any {
		if len(args) == 0 {
			return nil
		}
		return args[0]
	}

	switch mode {
	case protocol.ModeSingle, protocol.ModeAll:
		return protocol.Func(func(_ any, args ...any) any { return first(args) }), nil
	case protocol.ModeFlow:
		return flow.Step(func(_ *flow.Pipeline, args ...any) any { return first(args) }), nil
	case protocol.ModeAsyncFlow:
		return flow.DeferredStep(func(d *flow.Deferred, args ...any) any {
			d.Resolve(first(args))
			return nil
		}), nil
	default:
		return nil, unsupported("echo", mode)
	}
}

// veto returns false, which stops an all method and ends a flow.
func vetoHandler(h *Harness, mode protocol.Mode, _ map[string]any) (any, error) {
	switch mode {
	case protocol.ModeSingle, protocol.ModeAll:
		return protocol.Func(func(any, ...any) any { return false }), nil
	case protocol.ModeFlow:
		return flow.Step(func(*flow.Pipeline, ...any) any { return false }), nil
	default:
		return nil, unsupported("veto", mode)
	}
}

// advance hands control to the next lower-priority step.
func advanceHandler(h *Harness, mode protocol.Mode, with map[string]any) (any, error) {
	var cfg advanceConfig
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}

	switch mode {
	case protocol.ModeFlow:
		return flow.Step(func(p *flow.Pipeline, _ ...any) any { return p.Advance() }), nil
	case protocol.ModeAsyncFlow:
		return flow.DeferredStep(func(d *flow.Deferred, _ ...any) any {
			if cfg.Later {
				return d.AdvanceDeferred()
			}
			return d.Advance()
		}), nil
	default:
		return nil, unsupported("advance", mode)
	}
}

// reject fails the call with message.
func rejectHandler(h *Harness, mode protocol.Mode, with map[string]any) (any, error) {
	var cfg rejectConfig
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}
	if cfg.Message == "" {
		cfg.Message = "rejected"
	}
	reason := errors.New(cfg.Message)

	switch mode {
	case protocol.ModeAsyncFlow:
		return flow.DeferredStep(func(d *flow.Deferred, _ ...any) any {
			h.later(cfg.Later, func() { d.Reject(reason) })
			return nil
		}), nil
	case protocol.ModeAsync:
		return protocol.AsyncComputeFunc(func(any) *flow.Future {
			f := flow.NewFuture()
			h.later(cfg.Later, func() { f.Reject(reason) })
			return f
		}), nil
	default:
		return nil, unsupported("reject", mode)
	}
}

// counter returns how many times it has run, starting at start (default 1).
// Scenarios use it to observe memoization.
func counterHandler(h *Harness, mode protocol.Mode, with map[string]any) (any, error) {
	var cfg counterConfig
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}
	if cfg.Start == 0 {
		cfg.Start = 1
	}
	var n atomic.Int64
	n.Store(cfg.Start - 1)

	switch mode {
	case protocol.ModeSingle:
		return protocol.Func(func(any, ...any) any { return n.Add(1) }), nil
	case protocol.ModeCached:
		return protocol.ComputeFunc(func(any) any { return n.Add(1) }), nil
	case protocol.ModeAsync:
		return protocol.AsyncComputeFunc(func(any) *flow.Future {
			v := n.Add(1)
			f := flow.NewFuture()
			h.later(cfg.Later, func() { f.Resolve(v) })
			return f
		}), nil
	default:
		return nil, unsupported("counter", mode)
	}
}

// pending never settles.
func pendingHandler(h *Harness, mode protocol.Mode, _ map[string]any) (any, error) {
	switch mode {
	case protocol.ModeAsyncFlow:
		return flow.DeferredStep(func(*flow.Deferred, ...any) any { return nil }), nil
	case protocol.ModeAsync:
		return protocol.AsyncComputeFunc(func(any) *flow.Future { return flow.NewFuture() }), nil
	default:
		return nil, unsupported("pending", mode)
	}
}

// memory binds an in-process adapter. Bindings that share a name share the
// adapter's entries.
func memoryLeaf(h *Harness, with map[string]any) (adapter.Leaf, error) {
	var cfg memoryConfig
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		if a, ok := h.memories[cfg.Name]; ok {
			return a, nil
		}
	}
	a := memadapter.New(memadapter.WithLogger(h.logger))
	if cfg.Name != "" {
		h.memories[cfg.Name] = a
	}
	return a, nil
}

// sqlite binds a record collection in the run's store.
func sqliteLeaf(h *Harness, with map[string]any) (adapter.Leaf, error) {
	cfg := sqliteConfig{Collection: "records"}
	if err := decodeWith(with, &cfg); err != nil {
		return nil, err
	}
	return sqladapter.New(h.store, cfg.Collection, h.loop,
		sqladapter.WithLogger(h.logger),
		sqladapter.WithContext(h.ctx),
	), nil
}
