package protocol

import (
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
)

type resolved struct {
	ctx    Context
	method *MethodDef
	fns    []any
}

// resolve finds the method, checks the requested mode (empty: any), resolves
// delegation and returns the ordered implementations.
func (r *Registry) resolve(target any, p *Protocol, method string, want Mode) (resolved, error) {
	m, ok := p.LookupMethod(method)
	if !ok {
		return resolved{}, &DefinitionError{Code: ErrCodeUnknownMember, Protocol: p.name, Member: method, Message: "method not declared"}
	}
	if want != "" && m.Mode != want {
		return resolved{}, &ModeMismatchError{Protocol: p.name, Method: method, Declared: m.Mode, Requested: want}
	}

	ctx, err := r.ResolveContext(target)
	if err != nil {
		r.logger.Debug("dispatch lookup failed", "protocol", p.name, "method", method, "error", err)
		return resolved{}, err
	}

	r.mu.RLock()
	list := r.impls[implKey{ctx.Type, m.token}]
	fns := make([]any, len(list))
	for i, impl := range list {
		fns[i] = impl.fn
	}
	r.mu.RUnlock()

	if len(fns) == 0 {
		if m.Default == nil {
			err := &NotImplementedError{Type: ctx.Type.name, Protocol: p.name, Method: method}
			r.logger.Debug("dispatch failed", "error", err)
			return resolved{}, err
		}
		fns = []any{m.Default}
	}
	return resolved{ctx: ctx, method: m, fns: fns}, nil
}

// Lookup returns the implementations of method for target in execution
// order, after delegation. With no implementations it returns the method's
// default alone; with neither it fails with NotImplementedError.
func (r *Registry) Lookup(target any, p *Protocol, method string) ([]any, error) {
	res, err := r.resolve(target, p, method, "")
	if err != nil {
		return nil, err
	}
	return res.fns, nil
}

// Invoke dispatches by the method's declared mode.
//
// The result is the implementation's return value for single and flow, a
// bool (false when vetoed) for all, the cached value for cached, and a
// *flow.Future for async_flow and async. cached and async ignore args.
func (r *Registry) Invoke(target any, p *Protocol, method string, args ...any) (any, error) {
	m, ok := p.LookupMethod(method)
	if !ok {
		return nil, &DefinitionError{Code: ErrCodeUnknownMember, Protocol: p.name, Member: method, Message: "method not declared"}
	}
	switch m.Mode {
	case ModeSingle:
		return r.Single(target, p, method, args...)
	case ModeAll:
		return r.All(target, p, method, args...)
	case ModeFlow:
		return r.Flow(target, p, method, args...)
	case ModeAsyncFlow:
		f, err := r.AsyncFlow(target, p, method, args...)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ModeCached:
		return r.Cached(target, p, method)
	default:
		f, err := r.Async(target, p, method)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// Single invokes the highest-priority implementation and returns its result.
func (r *Registry) Single(target any, p *Protocol, method string, args ...any) (any, error) {
	res, err := r.resolve(target, p, method, ModeSingle)
	if err != nil {
		return nil, err
	}
	id := r.traceCall(res.ctx, p, res.method, args)

	out := res.fns[0].(Func)(res.ctx.Target(), args...)
	r.traceOutcome(id, ir.OutcomeSucceeded, out, nil)
	return out, nil
}

// All invokes every implementation in priority order. An implementation
// that returns the boolean false vetoes the rest; All then returns false.
func (r *Registry) All(target any, p *Protocol, method string, args ...any) (bool, error) {
	res, err := r.resolve(target, p, method, ModeAll)
	if err != nil {
		return false, err
	}
	id := r.traceCall(res.ctx, p, res.method, args)

	for _, fn := range res.fns {
		if ok, isBool := fn.(Func)(res.ctx.Target(), args...).(bool); isBool && !ok {
			r.traceOutcome(id, ir.OutcomeVetoed, false, nil)
			return false, nil
		}
	}
	r.traceOutcome(id, ir.OutcomeSucceeded, true, nil)
	return true, nil
}

// Flow runs the implementations as a flow.Pipeline bound to the resolved
// target and returns the pipeline's result.
func (r *Registry) Flow(target any, p *Protocol, method string, args ...any) (any, error) {
	res, err := r.resolve(target, p, method, ModeFlow)
	if err != nil {
		return nil, err
	}
	id := r.traceCall(res.ctx, p, res.method, args)

	steps := make([]flow.Step, len(res.fns))
	for i, fn := range res.fns {
		steps[i] = fn.(flow.Step)
	}
	out := flow.NewPipeline(res.ctx.Target(), steps, args...).Run()
	r.traceOutcome(id, ir.OutcomeSucceeded, out, nil)
	return out, nil
}

// AsyncFlow runs the implementations as a flow.Deferred and returns its
// completion handle. When every step settles synchronously the handle is
// already settled on return.
func (r *Registry) AsyncFlow(target any, p *Protocol, method string, args ...any) (*flow.Future, error) {
	res, err := r.resolve(target, p, method, ModeAsyncFlow)
	if err != nil {
		return nil, err
	}
	id := r.traceCall(res.ctx, p, res.method, args)

	steps := make([]flow.DeferredStep, len(res.fns))
	for i, fn := range res.fns {
		steps[i] = fn.(flow.DeferredStep)
	}
	f := flow.NewDeferred(r.sched, res.ctx.Target(), steps, args...).Run()
	r.traceFuture(id, f)
	return f, nil
}

// Cached returns the memoized result of the highest-priority implementation,
// computing and storing it on a miss.
func (r *Registry) Cached(target any, p *Protocol, method string) (any, error) {
	if r.cache == nil {
		return nil, ErrNoCache
	}
	res, err := r.resolve(target, p, method, ModeCached)
	if err != nil {
		return nil, err
	}
	id := r.traceCall(res.ctx, p, res.method, nil)

	obj := res.ctx.Target()
	tok := res.method.token
	v, ok := r.cache.Get(obj, tok)
	if !ok {
		compute := res.fns[0].(ComputeFunc)
		v = r.cache.ComputeAndStore(obj, tok, func() any { return compute(obj) })
	}
	r.traceOutcome(id, ir.OutcomeSucceeded, v, nil)
	return v, nil
}

// Async returns the handle of the asynchronous computation for target.
//
// The handle is stored in the cache as soon as the computation starts, so
// every call until the entry is invalidated receives the identical handle,
// pending or settled. A failed handle also stays cached until invalidation.
func (r *Registry) Async(target any, p *Protocol, method string) (*flow.Future, error) {
	if r.cache == nil {
		return nil, ErrNoCache
	}
	res, err := r.resolve(target, p, method, ModeAsync)
	if err != nil {
		return nil, err
	}
	id := r.traceCall(res.ctx, p, res.method, nil)

	obj := res.ctx.Target()
	tok := res.method.token
	v, ok := r.cache.Get(obj, tok)
	if !ok {
		compute := res.fns[0].(AsyncComputeFunc)
		v = r.cache.ComputeAndStore(obj, tok, func() any {
			if f := compute(obj); f != nil {
				return f
			}
			return flow.Resolved(nil)
		})
	}
	f, isFuture := v.(*flow.Future)
	if !isFuture {
		f = flow.Resolved(v)
	}
	r.traceFuture(id, f)
	return f, nil
}
