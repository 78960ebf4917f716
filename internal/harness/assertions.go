package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/roach88/protoflow/internal/ir"
)

// ValueFunc reads a protocol value by "Type.Protocol.value" ref.
type ValueFunc func(ref string) (any, error)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		if event.Kind == "call" {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, event.Ref, event.Args)
			continue
		}
		fmt.Fprintf(&buf, "  [%d]   -> %s\n", i+1, event.State)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
// values may be nil when no expr assertion reads protocol values.
func EvaluateAssertions(result *Result, assertions []Assertion, values ValueFunc) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertExpr:
			err = assertExpr(result, a, values)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceOrder checks that refs are first called in the given order.
// Calls need not be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Kind != "call" {
			continue
		}
		if _, seen := positions[event.Ref]; !seen {
			positions[event.Ref] = i + 1 // 1-indexed for readability
		}
	}

	for _, ref := range assertion.Refs {
		if positions[ref] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all refs called: %v", assertion.Refs),
				Actual:   fmt.Sprintf("never called: %s", ref),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Refs); i++ {
		prev, curr := assertion.Refs[i-1], assertion.Refs[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("refs in order: %v", assertion.Refs),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that ref is called exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == "call" && event.Ref == assertion.Ref {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s called %d time(s)", assertion.Ref, assertion.Count),
			Actual:   fmt.Sprintf("called %d time(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertExpr evaluates a boolean expression over the run.
//
// The environment holds calls, outcomes and steps as lists of maps, plus
// value(ref) for reading protocol values.
func assertExpr(result *Result, assertion Assertion, values ValueFunc) error {
	env := exprEnv(result, values)

	program, err := expr.Compile(assertion.Expr, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("expr %q: compile: %w", assertion.Expr, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("expr %q: run: %w", assertion.Expr, err)
	}
	if ok, _ := out.(bool); !ok {
		return &AssertionError{
			Type:     AssertExpr,
			Expected: assertion.Expr,
			Actual:   "false",
			Trace:    result.Trace,
		}
	}
	return nil
}

func exprEnv(result *Result, values ValueFunc) map[string]any {
	calls := []any{}
	outcomes := []any{}
	for _, e := range result.Trace {
		if e.Kind == "call" {
			calls = append(calls, e.toMap())
		} else {
			outcomes = append(outcomes, e.toMap())
		}
	}
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		steps[i] = s.toMap()
	}

	if values == nil {
		values = func(ref string) (any, error) {
			return nil, fmt.Errorf("no values available for %s", ref)
		}
	}
	return map[string]any{
		"calls":    calls,
		"outcomes": outcomes,
		"steps":    steps,
		"value":    func(ref string) (any, error) { return values(ref) },
	}
}

// checkExpect compares a step result with its expect clause.
func checkExpect(res StepResult, e *ExpectClause) []string {
	var errs []string
	prefix := fmt.Sprintf("flow[%d] %s", res.Index, res.Ref)

	if res.State != e.State {
		msg := fmt.Sprintf("%s: expected state %s, got %s", prefix, e.State, res.State)
		if res.Error != "" {
			msg += " (" + res.Error + ")"
		}
		errs = append(errs, msg)
	}

	if e.Error != "" && !strings.Contains(res.Error, e.Error) {
		errs = append(errs, fmt.Sprintf("%s: expected error containing %q, got %q", prefix, e.Error, res.Error))
	}

	if e.HasValue() {
		var want any
		if err := e.Value.Decode(&want); err != nil {
			return append(errs, fmt.Sprintf("%s: decode expected value: %v", prefix, err))
		}
		equal, err := canonicalEqual(want, res.Value)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("%s: expected value: %v", prefix, err))
		case !equal:
			errs = append(errs, fmt.Sprintf("%s: expected value %v, got %v", prefix, want, res.Value))
		}
	}
	return errs
}

// canonicalEqual compares two plain values by their canonical JSON.
func canonicalEqual(want, got any) (bool, error) {
	wv, err := ir.FromGo(want)
	if err != nil {
		return false, err
	}
	wb, err := ir.MarshalCanonical(wv)
	if err != nil {
		return false, err
	}
	gb, err := ir.MarshalCanonical(ir.Summarize(got))
	if err != nil {
		return false, err
	}
	return bytes.Equal(wb, gb), nil
}
