package ir

import (
	"encoding/json"
	"fmt"
)

// ProtocolSpec is a compiled capability declaration.
type ProtocolSpec struct {
	Name     string       `json:"name"`
	Requires []string     `json:"requires"`
	Methods  []MethodSpec `json:"methods"`
	Values   []ValueSpec  `json:"values"`
}

// MethodSpec declares a method and its dispatch mode.
type MethodSpec struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// ValueSpec declares a value. Default is nil when none was declared.
type ValueSpec struct {
	Name       string `json:"name"`
	Accumulate bool   `json:"accumulate"`
	Default    Value  `json:"default,omitempty"`
}

// UnmarshalJSON decodes the interface-typed Default.
func (v *ValueSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name       string          `json:"name"`
		Accumulate bool            `json:"accumulate"`
		Default    json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Name = raw.Name
	v.Accumulate = raw.Accumulate
	v.Default = nil
	if len(raw.Default) > 0 {
		def, err := UnmarshalValue(raw.Default)
		if err != nil {
			return fmt.Errorf("value %q default: %w", raw.Name, err)
		}
		if _, isNull := def.(Null); !isNull {
			v.Default = def
		}
	}
	return nil
}

// Call is one dispatched method invocation in a trace.
type Call struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
	Method   string `json:"method"`
	Mode     string `json:"mode"`
	Args     List   `json:"args"`
}

// Outcome states recorded in traces.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeVetoed    = "vetoed"
)

// Outcome is the result of a Call. Value is set on success, Reason on failure.
type Outcome struct {
	CallID string `json:"call_id"`
	Seq    int64  `json:"seq"`
	State  string `json:"state"`
	Value  Value  `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Ref returns the "Type.Protocol.method" reference used by scenarios.
func (c Call) Ref() string {
	return c.Type + "." + c.Protocol + "." + c.Method
}

// Object returns the call as a Value for canonical encoding and expressions.
func (c Call) Object() Object {
	args := c.Args
	if args == nil {
		args = List{}
	}
	return Object{
		"id":       String(c.ID),
		"seq":      Int(c.Seq),
		"type":     String(c.Type),
		"protocol": String(c.Protocol),
		"method":   String(c.Method),
		"mode":     String(c.Mode),
		"args":     args,
	}
}

// Object returns the outcome as a Value for canonical encoding and expressions.
func (o Outcome) Object() Object {
	obj := Object{
		"call_id": String(o.CallID),
		"seq":     Int(o.Seq),
		"state":   String(o.State),
	}
	if o.Value != nil {
		obj["value"] = o.Value
	}
	if o.Reason != "" {
		obj["reason"] = String(o.Reason)
	}
	return obj
}

// Object returns the spec as a Value for canonical encoding.
func (s ProtocolSpec) Object() Object {
	requires := make(List, len(s.Requires))
	for i, r := range s.Requires {
		requires[i] = String(r)
	}
	methods := make(List, len(s.Methods))
	for i, m := range s.Methods {
		methods[i] = Object{"name": String(m.Name), "mode": String(m.Mode)}
	}
	values := make(List, len(s.Values))
	for i, v := range s.Values {
		obj := Object{"name": String(v.Name), "accumulate": Bool(v.Accumulate)}
		if v.Default != nil {
			obj["default"] = v.Default
		}
		values[i] = obj
	}
	return Object{
		"name":     String(s.Name),
		"requires": requires,
		"methods":  methods,
		"values":   values,
	}
}
