package harness

import (
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/store"
)

// TraceEvent is one call or outcome read back from the run's store.
// Values are plain Go (see ir.ToGo).
type TraceEvent struct {
	Kind   string `json:"kind"` // "call" or "outcome"
	Seq    int64  `json:"seq"`
	CallID string `json:"call_id"`
	Ref    string `json:"ref"`
	Mode   string `json:"mode,omitempty"`
	Args   []any  `json:"args,omitempty"`
	State  string `json:"state,omitempty"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// StepResult is what one flow step produced.
type StepResult struct {
	Index int    `json:"index"`
	Ref   string `json:"ref"`
	State string `json:"state"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// settle fills State and Value or Error from a dispatch result.
func (r StepResult) settle(v any, err error) StepResult {
	if err != nil {
		r.State = StateFailed
		r.Error = err.Error()
		return r
	}
	r.State = StateSucceeded
	r.Value = ir.ToGo(ir.Summarize(v))
	return r
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Steps holds one entry per flow step, in order.
	Steps []StepResult `json:"steps"`

	// Trace contains every call and outcome in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceEvents converts store entries; outcomes inherit their call's ref.
func traceEvents(entries []store.Entry) []TraceEvent {
	refs := make(map[string]string)
	events := make([]TraceEvent, 0, len(entries))
	for _, e := range entries {
		if e.Call != nil {
			c := e.Call
			refs[c.ID] = c.Ref()
			args, _ := ir.ToGo(c.Args).([]any)
			events = append(events, TraceEvent{
				Kind:   "call",
				Seq:    c.Seq,
				CallID: c.ID,
				Ref:    c.Ref(),
				Mode:   c.Mode,
				Args:   args,
			})
			continue
		}
		o := e.Outcome
		events = append(events, TraceEvent{
			Kind:   "outcome",
			Seq:    o.Seq,
			CallID: o.CallID,
			Ref:    refs[o.CallID],
			State:  o.State,
			Value:  ir.ToGo(o.Value),
			Reason: o.Reason,
		})
	}
	return events
}

// toMap returns the event as a map for expr environments and snapshots.
// Empty optional fields are left out.
func (e TraceEvent) toMap() map[string]any {
	m := map[string]any{
		"kind":    e.Kind,
		"seq":     e.Seq,
		"call_id": e.CallID,
		"ref":     e.Ref,
	}
	if e.Kind == "call" {
		m["mode"] = e.Mode
		args := e.Args
		if args == nil {
			args = []any{}
		}
		m["args"] = args
		return m
	}
	m["state"] = e.State
	m["value"] = e.Value
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	return m
}

func (r StepResult) toMap() map[string]any {
	m := map[string]any{
		"index": int64(r.Index),
		"ref":   r.Ref,
		"state": r.State,
		"value": r.Value,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}
