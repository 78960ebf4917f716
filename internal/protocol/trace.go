package protocol

import (
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
)

// Tracer receives a record for every dispatch.
//
// Errors are logged by the registry and never reach the caller.
type Tracer interface {
	OnCall(call ir.Call) error
	OnOutcome(outcome ir.Outcome) error
}

// traceCall records a dispatch and returns its id, or "" when tracing is off.
func (r *Registry) traceCall(ctx Context, p *Protocol, m *MethodDef, args []any) string {
	if r.tracer == nil {
		return ""
	}
	call := ir.Call{
		ID:       r.ids.Generate(),
		Seq:      r.clock.Next(),
		Type:     ctx.Type.name,
		Protocol: p.name,
		Method:   m.Name,
		Mode:     string(m.Mode),
		Args:     ir.SummarizeAll(args),
	}
	if err := r.tracer.OnCall(call); err != nil {
		r.logger.Error("trace call failed", "call_id", call.ID, "ref", call.Ref(), "error", err)
	}
	return call.ID
}

func (r *Registry) traceOutcome(callID, state string, value any, reason error) {
	if callID == "" {
		return
	}
	out := ir.Outcome{
		CallID: callID,
		Seq:    r.clock.Next(),
		State:  state,
	}
	if reason != nil {
		out.Reason = reason.Error()
	} else {
		out.Value = ir.Summarize(value)
	}
	if err := r.tracer.OnOutcome(out); err != nil {
		r.logger.Error("trace outcome failed", "call_id", callID, "error", err)
	}
}

// traceFuture records the outcome of f once it settles.
func (r *Registry) traceFuture(callID string, f *flow.Future) {
	if callID == "" {
		return
	}
	f.Then(
		func(v any) { r.traceOutcome(callID, ir.OutcomeSucceeded, v, nil) },
		func(err error) { r.traceOutcome(callID, ir.OutcomeFailed, nil, err) },
	)
}
