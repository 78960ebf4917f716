package protocol

import (
	"fmt"

	"github.com/roach88/protoflow/internal/flow"
)

// Mode is the dispatch strategy declared for a method.
type Mode string

const (
	// ModeSingle invokes only the highest-priority implementation.
	ModeSingle Mode = "single"
	// ModeAll invokes every implementation until one returns false.
	ModeAll Mode = "all"
	// ModeFlow runs the implementations as a flow.Pipeline.
	ModeFlow Mode = "flow"
	// ModeAsyncFlow runs the implementations as a flow.Deferred.
	ModeAsyncFlow Mode = "async_flow"
	// ModeCached memoizes the highest-priority implementation through the Cache.
	ModeCached Mode = "cached"
	// ModeAsync memoizes an asynchronous computation, one in flight at a time.
	ModeAsync Mode = "async"
)

// Modes lists every dispatch mode in declaration order.
var Modes = []Mode{ModeSingle, ModeAll, ModeFlow, ModeAsyncFlow, ModeCached, ModeAsync}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the six dispatch modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeAll, ModeFlow, ModeAsyncFlow, ModeCached, ModeAsync:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }

// Func implements single and all methods.
type Func func(target any, args ...any) any

// ComputeFunc implements cached methods.
type ComputeFunc func(target any) any

// AsyncComputeFunc implements async methods.
type AsyncComputeFunc func(target any) *flow.Future

// normalize converts fn to the implementation type required by mode.
// Plain function literals with the right signature are accepted.
func normalize(mode Mode, fn any) (any, bool) {
	if fn == nil {
		return nil, false
	}
	switch mode {
	case ModeSingle, ModeAll:
		switch f := fn.(type) {
		case Func:
			return f, f != nil
		case func(any, ...any) any:
			return Func(f), f != nil
		}
	case ModeFlow:
		switch f := fn.(type) {
		case flow.Step:
			return f, f != nil
		case func(*flow.Pipeline, ...any) any:
			return flow.Step(f), f != nil
		}
	case ModeAsyncFlow:
		switch f := fn.(type) {
		case flow.DeferredStep:
			return f, f != nil
		case func(*flow.Deferred, ...any) any:
			return flow.DeferredStep(f), f != nil
		}
	case ModeCached:
		switch f := fn.(type) {
		case ComputeFunc:
			return f, f != nil
		case func(any) any:
			return ComputeFunc(f), f != nil
		}
	case ModeAsync:
		switch f := fn.(type) {
		case AsyncComputeFunc:
			return f, f != nil
		case func(any) *flow.Future:
			return AsyncComputeFunc(f), f != nil
		}
	}
	return nil, false
}
