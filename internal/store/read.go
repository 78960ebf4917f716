package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/protoflow/internal/ir"
)

// Entry is one line of a merged trace: either a call or an outcome.
type Entry struct {
	Seq     int64
	Call    *ir.Call
	Outcome *ir.Outcome
}

// Kind returns "call" or "outcome".
func (e Entry) Kind() string {
	if e.Call != nil {
		return "call"
	}
	return "outcome"
}

// ReadCalls returns every call in seq order.
func (s *Store) ReadCalls(ctx context.Context) ([]ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, type, protocol, method, mode, args
		FROM calls
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []ir.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

// ReadCall returns the call with the given id. The bool is false when the
// call is unknown.
func (s *Store) ReadCall(ctx context.Context, id string) (ir.Call, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, type, protocol, method, mode, args
		FROM calls
		WHERE id = ?
	`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Call{}, false, nil
	}
	if err != nil {
		return ir.Call{}, false, err
	}
	return c, true, nil
}

// ReadOutcomes returns every outcome in seq order.
func (s *Store) ReadOutcomes(ctx context.Context) ([]ir.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, seq, state, value, reason
		FROM outcomes
		ORDER BY seq ASC, call_id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []ir.Outcome
	for rows.Next() {
		var (
			o      ir.Outcome
			value  sql.NullString
			reason sql.NullString
		)
		if err := rows.Scan(&o.CallID, &o.Seq, &o.State, &value, &reason); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if value.Valid {
			v, err := ir.UnmarshalValue([]byte(value.String))
			if err != nil {
				return nil, fmt.Errorf("decode value for call %s: %w", o.CallID, err)
			}
			o.Value = v
		}
		o.Reason = reason.String
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// ReadTrace merges calls and outcomes into a single seq-ordered timeline.
// A call sorts before an outcome with the same seq.
func (s *Store) ReadTrace(ctx context.Context) ([]Entry, error) {
	calls, err := s.ReadCalls(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.ReadOutcomes(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(calls)+len(outcomes))
	i, j := 0, 0
	for i < len(calls) || j < len(outcomes) {
		if j >= len(outcomes) || (i < len(calls) && calls[i].Seq <= outcomes[j].Seq) {
			c := calls[i]
			entries = append(entries, Entry{Seq: c.Seq, Call: &c})
			i++
			continue
		}
		o := outcomes[j]
		entries = append(entries, Entry{Seq: o.Seq, Outcome: &o})
		j++
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (ir.Call, error) {
	var (
		c    ir.Call
		args string
	)
	if err := row.Scan(&c.ID, &c.Seq, &c.Type, &c.Protocol, &c.Method, &c.Mode, &args); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Call{}, err
		}
		return ir.Call{}, fmt.Errorf("scan call: %w", err)
	}
	list, err := decodeList(args)
	if err != nil {
		return ir.Call{}, fmt.Errorf("decode args for call %s: %w", c.ID, err)
	}
	c.Args = list
	return c, nil
}

func decodeList(data string) (ir.List, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, err
	}
	list, ok := v.(ir.List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	return list, nil
}

// MaxSeq returns the highest seq in the trace, or 0 when it is empty.
// Pass it to flow.NewClockAt to append to an existing trace.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM calls
			UNION ALL
			SELECT seq FROM outcomes
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}
