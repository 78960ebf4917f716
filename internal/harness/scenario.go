package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a protocol scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE files whose protocols are compiled and defined.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs"`

	// Types declares abstract types and the protocols attached to them.
	Types []TypeDecl `yaml:"types"`

	// Bindings implement protocol methods with catalog handlers.
	Bindings []Binding `yaml:"bindings,omitempty"`

	// Flow is executed in order; each step invokes a method or sets a value.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// TypeDecl declares one abstract type.
type TypeDecl struct {
	Name      string   `yaml:"name"`
	Protocols []string `yaml:"protocols"`
}

// Binding attaches a handler to a method ("Type.Protocol.method") or, for
// the storage handlers, to a whole protocol ("Type.Protocol").
type Binding struct {
	Ref      string         `yaml:"ref"`
	Handler  string         `yaml:"handler"`
	Priority int            `yaml:"priority,omitempty"`
	With     map[string]any `yaml:"with,omitempty"`
}

// FlowStep is one step of the flow. Exactly one of Invoke and Set is given.
type FlowStep struct {
	// Invoke is a method ref, e.g. "Account.Store.find".
	Invoke string `yaml:"invoke,omitempty"`

	// Args are passed positionally.
	Args []any `yaml:"args,omitempty"`

	// Set is a value ref, e.g. "Account.Store.table"; Value is stored there.
	Set   string `yaml:"set,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Expect validates the step result. If nil, any result is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected step result.
type ExpectClause struct {
	// State is "succeeded", "failed" or "vetoed".
	State string `yaml:"state"`

	// Value is compared in canonical form when present; an explicit null
	// expects a nil result.
	Value yaml.Node `yaml:"value,omitempty"`

	// Error is a substring of the failure reason.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of trace_order, trace_count or expr.
	Type string `yaml:"type"`

	// Ref is the method ref counted by trace_count.
	Ref string `yaml:"ref,omitempty"`

	// Count is the expected number of calls (trace_count).
	Count int `yaml:"count,omitempty"`

	// Refs is the expected call order (trace_order).
	Refs []string `yaml:"refs,omitempty"`

	// Expr is a boolean expr-lang expression (expr).
	Expr string `yaml:"expr,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertExpr       = "expr"
)

// Expected step states.
const (
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateVetoed    = "vetoed"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec paths
// relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. Relative spec paths are joined to
// basePath when it is non-empty.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// HasValue reports whether the clause names an expected value.
func (e *ExpectClause) HasValue() bool {
	return e.Value.Kind != 0
}

// validateScenario checks that required fields are present and well formed.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Types) == 0 {
		return fmt.Errorf("types list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	types := make(map[string]bool, len(s.Types))
	for i, td := range s.Types {
		if td.Name == "" {
			return fmt.Errorf("types[%d]: name is required", i)
		}
		if types[td.Name] {
			return fmt.Errorf("types[%d]: duplicate type %q", i, td.Name)
		}
		types[td.Name] = true
	}

	for i, b := range s.Bindings {
		parts, err := splitRef(b.Ref, 2, 3)
		if err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
		if !types[parts[0]] {
			return fmt.Errorf("bindings[%d]: unknown type %q", i, parts[0])
		}
		if _, ok := handlers[b.Handler]; !ok {
			return fmt.Errorf("bindings[%d]: unknown handler %q", i, b.Handler)
		}
	}

	for i, step := range s.Flow {
		if (step.Invoke == "") == (step.Set == "") {
			return fmt.Errorf("flow[%d]: exactly one of invoke and set is required", i)
		}
		ref := step.Invoke + step.Set
		parts, err := splitRef(ref, 3, 3)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if !types[parts[0]] {
			return fmt.Errorf("flow[%d]: unknown type %q", i, parts[0])
		}
		if step.Expect != nil {
			switch step.Expect.State {
			case StateSucceeded, StateFailed, StateVetoed:
			case "":
				return fmt.Errorf("flow[%d].expect: state is required", i)
			default:
				return fmt.Errorf("flow[%d].expect: unknown state %q", i, step.Expect.State)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceOrder:
		if len(a.Refs) == 0 {
			return fmt.Errorf("assertions[%d]: refs list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertExpr:
		if strings.TrimSpace(a.Expr) == "" {
			return fmt.Errorf("assertions[%d]: expr is required for expr", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// splitRef splits a dotted ref and checks it has between lo and hi parts.
func splitRef(ref string, lo, hi int) ([]string, error) {
	if ref == "" {
		return nil, fmt.Errorf("ref is required")
	}
	parts := strings.Split(ref, ".")
	if len(parts) < lo || len(parts) > hi {
		return nil, fmt.Errorf("malformed ref %q", ref)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("malformed ref %q", ref)
		}
	}
	return parts, nil
}
