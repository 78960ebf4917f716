package flow

import (
	"context"
	"sync"
)

// State is the outcome of a Future.
type State int

const (
	// Pending means neither Resolve nor Reject took effect yet.
	Pending State = iota
	// Succeeded means the future holds a value.
	Succeeded
	// Failed means the future holds a reason.
	Failed
)

// String returns the lower-case state name used in traces.
func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Thenable is anything a Future can adopt.
// *Future implements it; adapters may wrap foreign handles the same way.
type Thenable interface {
	Then(onSuccess func(any), onFailure func(error))
}

// IsThenable reports whether v is a non-nil future-like value.
func IsThenable(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case *Future:
		return t != nil
	case Thenable:
		return true
	default:
		return false
	}
}

type continuation struct {
	onSuccess func(any)
	onFailure func(error)
}

// Future is a settle-once completion handle.
//
// The outcome is immutable once set: later Resolve or Reject calls are silent
// no-ops. Continuations registered with Then run synchronously on whichever
// goroutine settles the future, in registration order. A future that adopted
// a pending Thenable is locked and ignores direct Resolve/Reject until the
// adopted value settles it.
//
// Thread-safety: all methods are safe for concurrent use.
type Future struct {
	mu            sync.Mutex
	state         State
	value         any
	reason        error
	adopting      bool
	continuations []continuation
	done          chan struct{}
}

// NewFuture creates a pending future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved creates a future that already succeeded with v.
// If v is future-like the new future adopts it instead.
func Resolved(v any) *Future {
	f := NewFuture()
	f.Resolve(v)
	return f
}

// Rejected creates a future that already failed with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the future with v, or adopts v when it is future-like.
//
// Adopting a *Future that already settled copies its outcome in the same call;
// no continuation is scheduled.
func (f *Future) Resolve(v any) {
	if !f.open() {
		return
	}
	f.resolve(v)
}

// Reject settles the future with err.
func (f *Future) Reject(err error) {
	if !f.open() {
		return
	}
	f.settle(Failed, nil, err)
}

// Then registers continuations. Either callback may be nil.
// If the future already settled the matching callback runs immediately.
func (f *Future) Then(onSuccess func(any), onFailure func(error)) {
	f.mu.Lock()
	if f.state == Pending {
		f.continuations = append(f.continuations, continuation{onSuccess, onFailure})
		f.mu.Unlock()
		return
	}
	state, value, reason := f.state, f.value, f.reason
	f.mu.Unlock()

	fire(continuation{onSuccess, onFailure}, state, value, reason)
}

// State returns the current outcome kind.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Settled reports whether the future succeeded or failed.
func (f *Future) Settled() bool { return f.State() != Pending }

// Succeeded reports whether the future holds a value.
func (f *Future) Succeeded() bool { return f.State() == Succeeded }

// Failed reports whether the future holds a reason.
func (f *Future) Failed() bool { return f.State() == Failed }

// Value returns the success value, or nil unless the future succeeded.
func (f *Future) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Reason returns the failure reason, or nil unless the future failed.
func (f *Future) Reason() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done.
//
// Await does not drive any Loop. When the outcome depends on loop turns, use
// Loop.Await from the goroutine that owns the loop.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		_, value, reason := f.outcome()
		return value, reason
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// open reports whether direct Resolve/Reject calls may still take effect.
func (f *Future) open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Pending && !f.adopting
}

func (f *Future) outcome() (State, any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.value, f.reason
}

// resolve implements Resolve without the lock check so adopted values can
// settle a locked future.
func (f *Future) resolve(v any) {
	switch src := v.(type) {
	case *Future:
		if src == nil {
			f.settle(Succeeded, nil, nil)
			return
		}
		if src == f {
			f.settle(Failed, nil, ErrSelfResolution)
			return
		}
		if state, value, reason := src.outcome(); state != Pending {
			f.settle(state, value, reason)
			return
		}
		f.lock()
		src.Then(f.resolve, f.fail)
	case Thenable:
		f.lock()
		src.Then(f.resolve, f.fail)
	default:
		f.settle(Succeeded, v, nil)
	}
}

func (f *Future) fail(err error) {
	f.settle(Failed, nil, err)
}

func (f *Future) lock() {
	f.mu.Lock()
	f.adopting = true
	f.mu.Unlock()
}

func (f *Future) settle(state State, value any, reason error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.value = value
	f.reason = reason
	pending := f.continuations
	f.continuations = nil
	close(f.done)
	f.mu.Unlock()

	for _, c := range pending {
		fire(c, state, value, reason)
	}
}

func fire(c continuation, state State, value any, reason error) {
	switch state {
	case Succeeded:
		if c.onSuccess != nil {
			c.onSuccess(value)
		}
	case Failed:
		if c.onFailure != nil {
			c.onFailure(reason)
		}
	}
}
