// Package protocol implements capability dispatch: named protocols whose
// methods are attached to object types with prioritized implementations.
//
// # Composition
//
// A Protocol declares methods (each with one dispatch Mode) and values. A
// Registry maps Go types to Types, attaches protocols to them, and stores the
// implementations registered for each (type, method) pair:
//
//	store := protocol.New("Store")
//	store.MustMethod("find", protocol.ModeAsyncFlow,
//	    protocol.OnFirstUse(protocol.Accessor(reg, store, "find")))
//
//	user, _ := reg.DefineType("User", &User{})
//	reg.Implement(user, store, "find", memory.Find(db))
//
// Implementations run in descending priority; equal priorities run in
// registration order. A first-use hook fires once per type, on the first
// registration of its method.
//
// # Dispatch
//
// Each mode has a front-end on the Registry (Single, All, Flow, AsyncFlow,
// Cached, Async) and Invoke picks by the declared mode. Before lookup the
// target is resolved through delegation: an instance whose type has a
// Redirect is replaced by the object the redirect yields, repeatedly.
// Revisiting an instance is a DelegationCycleError.
//
// cached and async methods store their result in the Cache under the
// method's Token. An async entry holds the *flow.Future itself, so callers
// overlapping a pending computation share one handle.
//
// # Tracing
//
// With WithTracer every dispatch produces an ir.Call and, when it completes,
// an ir.Outcome. Records are stamped by the registry's logical clock.
package protocol
