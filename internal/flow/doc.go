// Package flow implements the sequential, short-circuiting pipelines that
// back every dispatched capability method.
//
// A Pipeline is an immutable list of steps plus a fixed argument tuple. A step
// receives the pipeline and the arguments and decides whether the rest of the
// list runs by calling Advance. Advancing never mutates the pipeline; it builds
// a new pipeline over the tail and runs it.
//
// A Deferred is the asynchronous variant. It owns one completion Future that
// any step may resolve or reject, either synchronously or from a later
// continuation. When a step returns (or resolves with) a future-like value the
// completion handle adopts that value's outcome. Adopting a Future that has
// already settled happens in the same turn, which is what lets callers skip
// waiting entirely:
//
//	d := flow.NewDeferred(loop, target, steps, 1)
//	d.Run()
//	if d.Settled() {
//	    // every step resolved synchronously; Value or Reason is ready
//	}
//
// # Execution Model
//
// Execution is single-threaded and cooperative. Suspension only happens when a
// step hands back a future whose outcome is not yet known. Work that must block
// (I/O, database calls) runs through Go, which settles its future on the Loop
// so continuations stay on the loop goroutine.
//
// There are no timeouts and no cancellation. A Deferred whose steps never
// resolve, reject or return a future stays pending forever.
package flow
