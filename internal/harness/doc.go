// Package harness runs protocol scenarios: YAML files that declare types,
// bind catalog handlers to protocol methods, dispatch calls through a real
// Registry and assert on the recorded trace.
//
// # Scenario Format
//
//	name: cache_read_through
//	description: "memory answers after the first sqlite hit"
//	specs:
//	  - specs/store.cue
//	types:
//	  - name: Account
//	    protocols: [Store]
//	bindings:
//	  - ref: Account.Store
//	    handler: sqlite
//	    with: { collection: accounts }
//	  - ref: Account.Store
//	    handler: memory
//	    priority: 900
//	flow:
//	  - invoke: Account.Store.save
//	    args: [alice, { balance: 10 }]
//	  - invoke: Account.Store.find
//	    args: [alice]
//	    expect:
//	      state: succeeded
//	      value: { balance: 10 }
//	assertions:
//	  - type: trace_count
//	    ref: Account.Store.find
//	    count: 1
//	  - type: expr
//	    expr: 'len(outcomes) == len(calls)'
//
// Spec paths are relative to the scenario file. Types are abstract: calls
// dispatch on the type itself, so a scenario needs no Go instances.
//
// # Handlers
//
// A binding names a handler from the catalog and configures it through its
// "with" map. Handlers are mode-aware: "const" returns its value from a single
// method, resolves it from an async_flow step and settles a future from an
// async method. See Handlers for the full list.
//
// # Assertion Types
//
//   - trace_order: refs are called in the given order (first occurrences)
//   - trace_count: ref is called exactly count times
//   - expr: an expr-lang boolean over calls, outcomes and steps
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory store, a SequentialGenerator for call ids
// and a fresh logical clock, so the same scenario always produces the same
// trace. RunWithGolden compares that trace against testdata/golden.
package harness
