package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/protoflow/internal/ir"
)

// WriteCall appends a call to the trace. Rewriting an existing id is a no-op.
func (s *Store) WriteCall(ctx context.Context, c ir.Call) error {
	if c.ID == "" {
		return fmt.Errorf("write call: empty id")
	}
	args := c.Args
	if args == nil {
		args = ir.List{}
	}
	argsJSON, err := ir.MarshalCanonical(args)
	if err != nil {
		return fmt.Errorf("marshal args for call %s: %w", c.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (id, seq, type, protocol, method, mode, args)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.Seq, c.Type, c.Protocol, c.Method, c.Mode, string(argsJSON))
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.ID, err)
	}
	return nil
}

// WriteOutcome records the outcome of a call. The first outcome wins.
func (s *Store) WriteOutcome(ctx context.Context, o ir.Outcome) error {
	if o.CallID == "" {
		return fmt.Errorf("write outcome: empty call id")
	}

	var value sql.NullString
	if o.Value != nil {
		data, err := ir.MarshalCanonical(o.Value)
		if err != nil {
			return fmt.Errorf("marshal value for call %s: %w", o.CallID, err)
		}
		value = sql.NullString{String: string(data), Valid: true}
	}
	var reason sql.NullString
	if o.Reason != "" {
		reason = sql.NullString{String: o.Reason, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (call_id, seq, state, value, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO NOTHING
	`, o.CallID, o.Seq, o.State, value, reason)
	if err != nil {
		return fmt.Errorf("insert outcome for call %s: %w", o.CallID, err)
	}
	return nil
}

// OnCall satisfies protocol.Tracer.
func (s *Store) OnCall(c ir.Call) error {
	return s.WriteCall(context.Background(), c)
}

// OnOutcome satisfies protocol.Tracer.
func (s *Store) OnOutcome(o ir.Outcome) error {
	return s.WriteOutcome(context.Background(), o)
}
