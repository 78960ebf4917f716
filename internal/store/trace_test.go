package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
)

var _ protocol.Tracer = (*Store)(nil)

func TestWriteCall_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	call := ir.Call{
		ID: "c1", Seq: 1, Type: "Widget", Protocol: "Render", Method: "draw", Mode: "single",
		Args: ir.List{ir.String("héllo"), ir.Int(3), ir.Object{"b": ir.Bool(true), "a": ir.Null{}}},
	}
	require.NoError(t, s.WriteCall(ctx, call))

	got, ok, err := s.ReadCall(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, call, got)

	_, ok, err = s.ReadCall(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteCall_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	call := ir.Call{ID: "c1", Seq: 1, Type: "T", Protocol: "P", Method: "m", Mode: "single"}
	require.NoError(t, s.WriteCall(ctx, call))

	call.Seq = 99
	require.NoError(t, s.WriteCall(ctx, call))

	calls, err := s.ReadCalls(ctx)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1), calls[0].Seq)
	assert.Equal(t, ir.List{}, calls[0].Args)
}

func TestWriteCall_EmptyID(t *testing.T) {
	s := setupTestStore(t)
	assert.Error(t, s.WriteCall(context.Background(), ir.Call{}))
	assert.Error(t, s.WriteOutcome(context.Background(), ir.Outcome{}))
}

func TestWriteOutcome_RequiresCall(t *testing.T) {
	s := setupTestStore(t)
	err := s.WriteOutcome(context.Background(), ir.Outcome{CallID: "ghost", Seq: 1, State: ir.OutcomeSucceeded})
	assert.Error(t, err)
}

func TestWriteOutcome_FirstWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCall(ctx, ir.Call{ID: "c1", Seq: 1, Type: "T", Protocol: "P", Method: "m", Mode: "async"}))
	require.NoError(t, s.WriteOutcome(ctx, ir.Outcome{CallID: "c1", Seq: 2, State: ir.OutcomeFailed, Reason: "boom"}))
	require.NoError(t, s.WriteOutcome(ctx, ir.Outcome{CallID: "c1", Seq: 3, State: ir.OutcomeSucceeded, Value: ir.String("late")}))

	outcomes, err := s.ReadOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ir.Outcome{CallID: "c1", Seq: 2, State: ir.OutcomeFailed, Reason: "boom"}, outcomes[0])
}

func TestReadCalls_OrderedBySeqThenID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, c := range []ir.Call{
		{ID: "b", Seq: 2, Type: "T", Protocol: "P", Method: "m", Mode: "single"},
		{ID: "z", Seq: 1, Type: "T", Protocol: "P", Method: "m", Mode: "single"},
		{ID: "a", Seq: 2, Type: "T", Protocol: "P", Method: "m", Mode: "single"},
	} {
		require.NoError(t, s.WriteCall(ctx, c))
	}

	calls, err := s.ReadCalls(ctx)
	require.NoError(t, err)
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"z", "a", "b"}, ids)
}

func TestReadTrace_MergesTimeline(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCall(ctx, ir.Call{ID: "c1", Seq: 1, Type: "T", Protocol: "P", Method: "m", Mode: "single"}))
	require.NoError(t, s.WriteCall(ctx, ir.Call{ID: "c2", Seq: 2, Type: "T", Protocol: "P", Method: "n", Mode: "single"}))
	require.NoError(t, s.WriteOutcome(ctx, ir.Outcome{CallID: "c2", Seq: 3, State: ir.OutcomeSucceeded, Value: ir.Int(1)}))
	require.NoError(t, s.WriteOutcome(ctx, ir.Outcome{CallID: "c1", Seq: 4, State: ir.OutcomeSucceeded, Value: ir.Int(2)}))

	entries, err := s.ReadTrace(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind()
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, []string{"call", "call", "outcome", "outcome"}, kinds)
	assert.Equal(t, "c1", entries[3].Outcome.CallID)

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestMaxSeq_Empty(t *testing.T) {
	s := setupTestStore(t)
	seq, err := s.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestStore_AsRegistryTracer(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	type box struct{ N int }
	reg := protocol.NewRegistry(
		protocol.WithTracer(s),
		protocol.WithIDGenerator(protocol.NewFixedGenerator("call-1", "call-2")),
	)
	typ, err := reg.DefineType("Box", &box{})
	require.NoError(t, err)

	p := protocol.New("Size")
	p.MustMethod("size", protocol.ModeSingle)
	p.MustMethod("load", protocol.ModeAsyncFlow)
	require.NoError(t, reg.Attach(typ, p))
	require.NoError(t, reg.Implement(typ, p, "size", func(target any, args ...any) any {
		return target.(*box).N * args[0].(int)
	}))
	require.NoError(t, reg.Implement(typ, p, "load", func(d *flow.Deferred, args ...any) any {
		d.Reject(assert.AnError)
		return nil
	}))

	b := &box{N: 4}
	v, err := reg.Single(b, p, "size", 2)
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	f, err := reg.AsyncFlow(b, p, "load")
	require.NoError(t, err)
	require.True(t, f.Failed())

	entries, err := s.ReadTrace(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "Box.Size.size", entries[0].Call.Ref())
	assert.Equal(t, ir.List{ir.Int(2)}, entries[0].Call.Args)
	assert.Equal(t, ir.Int(8), entries[1].Outcome.Value)

	assert.Equal(t, "call-2", entries[2].Call.ID)
	assert.Equal(t, ir.OutcomeFailed, entries[3].Outcome.State)
	assert.Equal(t, assert.AnError.Error(), entries[3].Outcome.Reason)
}
