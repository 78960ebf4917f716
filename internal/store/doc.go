// Package store provides SQLite-backed storage for protoflow.
//
// The store holds two things:
//   - the dispatch trace: one row per call and one per outcome, appended by
//     the registry through the Tracer methods
//   - records: a key/value table behind the SQLite leaf adapter
//
// # Ordering
//
// Trace rows carry the registry's logical clock (seq), never timestamps. All
// trace queries use ORDER BY seq ASC, id ASC COLLATE BINARY so reads are
// deterministic. Record queries order by key.
//
// # Encoding
//
// Arguments, values and record payloads are stored as RFC 8785 canonical
// JSON (ir.MarshalCanonical). Record ids are content-addressed with
// ir.RecordID.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: outcomes must reference an existing call
package store
