package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/protoflow/internal/ir"
)

// Snapshot is the golden form of a run: the steps and the full trace.
type Snapshot struct {
	Scenario string
	Steps    []StepResult
	Trace    []TraceEvent
}

// Canonical encodes the snapshot as canonical JSON.
func (s Snapshot) Canonical() ([]byte, error) {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = step.toMap()
	}
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		trace[i] = event.toMap()
	}

	v, err := ir.FromGo(map[string]any{
		"scenario": s.Scenario,
		"steps":    steps,
		"trace":    trace,
	})
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. A snapshot mismatch fails t
// through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot{Scenario: name, Steps: result.Steps, Trace: result.Trace}.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
