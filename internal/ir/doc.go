// Package ir holds the data shared by every other package: dynamic Values,
// protocol declarations as compiled from CUE, and the Call and Outcome
// records of a dispatch trace.
//
// Values have no float variant. Integers are int64 and objects encode in
// RFC 8785 key order, so a spec or trace always hashes the same way.
// Trace records are ordered by seq, a logical clock, never wall time.
package ir
