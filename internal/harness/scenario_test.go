package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specsDir = "testdata/specs"

func parse(t *testing.T, src string) (*Scenario, error) {
	t.Helper()
	return ParseScenario([]byte(src), specsDir)
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/dispatch_modes.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dispatch_modes", s.Name)
	require.Len(t, s.Specs, 2)
	assert.Equal(t, filepath.Join("testdata", "specs", "store.cue"), s.Specs[0])
	require.Len(t, s.Types, 1)
	assert.Equal(t, []string{"Lifecycle"}, s.Types[0].Protocols)
	assert.Equal(t, 10, s.Bindings[1].Priority)
	assert.Equal(t, "w-2", s.Bindings[1].With["value"])
	assert.Len(t, s.Assertions, 5)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := parse(t, `
name: typo
description: d
specs: [greeting.cue]
types: [{name: Greeter, protocols: [Greeting]}]
flow:
  - invoke: Greeter.Greeting.greet
assertion: []
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no name", `description: d`, "name is required"},
		{"no description", `name: n`, "description is required"},
		{"no specs", "name: n\ndescription: d", "specs list is required"},
		{"no types", "name: n\ndescription: d\nspecs: [greeting.cue]", "types list is required"},
		{"no flow", "name: n\ndescription: d\nspecs: [greeting.cue]\ntypes: [{name: G}]", "flow list is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_SpecNotFound(t *testing.T) {
	_, err := parse(t, `
name: n
description: d
specs: [missing.cue]
types: [{name: G}]
flow: [{invoke: G.P.m}]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec file not found")
}

func TestParseScenario_StepValidation(t *testing.T) {
	base := `
name: n
description: d
specs: [greeting.cue]
types: [{name: G}]
`
	tests := []struct {
		name string
		flow string
		want string
	}{
		{"neither", "flow: [{args: [1]}]", "exactly one of invoke and set"},
		{"both", "flow: [{invoke: G.P.m, set: G.P.v}]", "exactly one of invoke and set"},
		{"short ref", "flow: [{invoke: G.P}]", `malformed ref "G.P"`},
		{"empty part", "flow: [{invoke: G..m}]", "malformed ref"},
		{"unknown type", "flow: [{invoke: H.P.m}]", `unknown type "H"`},
		{"no state", "flow: [{invoke: G.P.m, expect: {value: 1}}]", "state is required"},
		{"bad state", "flow: [{invoke: G.P.m, expect: {state: done}}]", `unknown state "done"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, base+tt.flow)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_BindingValidation(t *testing.T) {
	base := `
name: n
description: d
specs: [greeting.cue]
types: [{name: G}]
flow: [{invoke: G.P.m}]
`
	_, err := parse(t, base+"bindings: [{ref: G.P.m, handler: teleport}]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown handler "teleport"`)

	_, err = parse(t, base+"bindings: [{ref: G, handler: const}]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed ref")

	_, err = parse(t, base+"bindings: [{ref: H.P, handler: memory}]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "H"`)
}

func TestParseScenario_AssertionValidation(t *testing.T) {
	base := `
name: n
description: d
specs: [greeting.cue]
types: [{name: G}]
flow: [{invoke: G.P.m}]
`
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no type", "assertions: [{ref: G.P.m}]", "type is required"},
		{"unknown type", "assertions: [{type: final_state}]", `unknown assertion type "final_state"`},
		{"order without refs", "assertions: [{type: trace_order}]", "refs list is required"},
		{"count without ref", "assertions: [{type: trace_count, count: 1}]", "ref is required"},
		{"negative count", "assertions: [{type: trace_count, ref: G.P.m, count: -1}]", "non-negative"},
		{"empty expr", "assertions: [{type: expr, expr: '  '}]", "expr is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, base+tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpectClause_HasValue(t *testing.T) {
	s, err := parse(t, `
name: n
description: d
specs: [greeting.cue]
types: [{name: G}]
flow:
  - invoke: G.P.a
    expect: {state: succeeded}
  - invoke: G.P.b
    expect: {state: succeeded, value: null}
  - invoke: G.P.c
    expect: {state: succeeded, value: {n: 1}}
`)
	require.NoError(t, err)

	assert.False(t, s.Flow[0].Expect.HasValue())
	assert.True(t, s.Flow[1].Expect.HasValue())
	assert.True(t, s.Flow[2].Expect.HasValue())

	var v any
	require.NoError(t, s.Flow[2].Expect.Value.Decode(&v))
	assert.Equal(t, map[string]any{"n": 1}, v)
}

func TestParseScenario_AbsoluteSpecPathKept(t *testing.T) {
	abs, err := filepath.Abs(filepath.Join(specsDir, "greeting.cue"))
	require.NoError(t, err)
	_, err = os.Stat(abs)
	require.NoError(t, err)

	s, err := ParseScenario([]byte(`
name: n
description: d
specs: [`+abs+`]
types: [{name: G}]
flow: [{invoke: G.P.m}]
`), "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, abs, s.Specs[0])
}
