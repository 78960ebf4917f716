package flow

import "slices"

// DeferredStep is one element of a Deferred pipeline.
//
// A step may call d.Resolve or d.Reject (now or later), return a future-like
// value for the completion handle to adopt, or continue with d.Advance or
// d.AdvanceDeferred. Any other return value is ignored.
type DeferredStep func(d *Deferred, args ...any) any

// Deferred is a pipeline with a single completion Future shared by every step
// of one Run.
type Deferred struct {
	sched  Scheduler
	target any
	steps  []DeferredStep
	args   []any
	future *Future
}

// NewDeferred binds steps to target and args. The step slice is copied.
// s is used by AdvanceDeferred and may be nil if no step needs it.
func NewDeferred(s Scheduler, target any, steps []DeferredStep, args ...any) *Deferred {
	return &Deferred{
		sched:  s,
		target: target,
		steps:  slices.Clone(steps),
		args:   args,
		future: NewFuture(),
	}
}

// Run invokes the first step and returns the completion handle.
//
// If the step returns a future-like value the handle adopts it; an already
// settled Future is adopted before Run returns. A Deferred with no steps
// resolves with nil.
func (d *Deferred) Run() *Future {
	if len(d.steps) == 0 {
		d.future.Resolve(nil)
		return d.future
	}
	if ret := d.steps[0](d, d.args...); IsThenable(ret) {
		d.future.Resolve(ret)
	}
	return d.future
}

// Resolve settles the completion handle with v, or adopts v.
func (d *Deferred) Resolve(v any) { d.future.Resolve(v) }

// Reject settles the completion handle with err.
func (d *Deferred) Reject(err error) { d.future.Reject(err) }

// Advance synchronously runs a Deferred over the remaining steps and returns
// its completion handle. The tail gets its own handle; return it from the step
// to forward its outcome.
//
// On the last step Advance returns a future already resolved with nil.
func (d *Deferred) Advance(args ...any) *Future {
	if len(d.steps) <= 1 {
		return Resolved(nil)
	}
	if len(args) == 0 {
		args = d.args
	}
	next := &Deferred{
		sched:  d.sched,
		target: d.target,
		steps:  d.steps[1:],
		args:   args,
		future: NewFuture(),
	}
	return next.Run()
}

// AdvanceDeferred is Advance on a fresh scheduler turn.
//
// The returned future adopts the tail's outcome once the posted task runs.
// Without a scheduler it fails with ErrNoScheduler.
func (d *Deferred) AdvanceDeferred(args ...any) *Future {
	if d.sched == nil {
		return Rejected(ErrNoScheduler)
	}
	out := NewFuture()
	if !d.sched.Post(func() { out.Resolve(d.Advance(args...)) }) {
		out.Reject(ErrSchedulerClosed)
	}
	return out
}

// Future returns the completion handle.
func (d *Deferred) Future() *Future { return d.future }

// Target returns the object the pipeline was bound to.
func (d *Deferred) Target() any { return d.target }

// Args returns the bound argument tuple.
func (d *Deferred) Args() []any { return d.args }

// Len returns the number of steps left, including the current one.
func (d *Deferred) Len() int { return len(d.steps) }

// Settled reports whether the completion handle has an outcome.
func (d *Deferred) Settled() bool { return d.future.Settled() }

// Succeeded reports whether the completion handle holds a value.
func (d *Deferred) Succeeded() bool { return d.future.Succeeded() }

// Failed reports whether the completion handle holds a reason.
func (d *Deferred) Failed() bool { return d.future.Failed() }

// Value returns the success value, or nil.
func (d *Deferred) Value() any { return d.future.Value() }

// Reason returns the failure reason, or nil.
func (d *Deferred) Reason() error { return d.future.Reason() }
