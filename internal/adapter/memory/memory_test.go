package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/adapter"
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/protocol"
)

type account struct{ ID string }

func setup(t *testing.T, extra ...protocol.ImplOption) (*protocol.Registry, *protocol.Type, *protocol.Protocol, *Adapter) {
	t.Helper()
	reg := protocol.NewRegistry()
	typ, err := reg.DefineType("Account", &account{})
	require.NoError(t, err)

	p := protocol.New("Store")
	p.MustMethod(adapter.MethodSave, protocol.ModeAsyncFlow)
	p.MustMethod(adapter.MethodFind, protocol.ModeAsyncFlow)
	p.MustMethod(adapter.MethodRemove, protocol.ModeAsyncFlow)
	require.NoError(t, reg.Attach(typ, p))

	a := New()
	require.NoError(t, adapter.Bind(reg, typ, p, a, extra...))
	return reg, typ, p, a
}

func TestAdapter_SettlesSynchronously(t *testing.T) {
	reg, _, p, a := setup(t)
	acct := &account{ID: "a1"}

	f, err := reg.AsyncFlow(acct, p, adapter.MethodSave, "a1", "balance=10")
	require.NoError(t, err)
	require.True(t, f.Succeeded(), "save settles before AsyncFlow returns")
	assert.Equal(t, "balance=10", f.Value())
	assert.Equal(t, 1, a.Len())

	f, err = reg.AsyncFlow(acct, p, adapter.MethodFind, "a1")
	require.NoError(t, err)
	require.True(t, f.Succeeded())
	assert.Equal(t, "balance=10", f.Value())

	f, err = reg.AsyncFlow(acct, p, adapter.MethodRemove, "a1")
	require.NoError(t, err)
	assert.Equal(t, true, f.Value())

	f, err = reg.AsyncFlow(acct, p, adapter.MethodRemove, "a1")
	require.NoError(t, err)
	assert.Equal(t, false, f.Value())
	assert.Equal(t, 0, a.Len())
}

func TestAdapter_FindMissResolvesNil(t *testing.T) {
	reg, _, p, _ := setup(t)

	f, err := reg.AsyncFlow(&account{}, p, adapter.MethodFind, "nope")
	require.NoError(t, err)
	require.True(t, f.Succeeded())
	assert.Nil(t, f.Value())
}

func TestAdapter_MissingArguments(t *testing.T) {
	reg, _, p, _ := setup(t)

	f, err := reg.AsyncFlow(&account{}, p, adapter.MethodSave, "only-key")
	require.NoError(t, err)
	require.True(t, f.Failed())
	assert.ErrorIs(t, f.Reason(), adapter.ErrMissingArgument)

	f, err = reg.AsyncFlow(&account{}, p, adapter.MethodFind)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Reason(), adapter.ErrMissingArgument)
}

func TestAdapter_StructuredKeys(t *testing.T) {
	reg, _, p, _ := setup(t)
	acct := &account{}

	_, err := reg.AsyncFlow(acct, p, adapter.MethodSave, map[string]any{"b": 1, "a": 2}, "v")
	require.NoError(t, err)

	f, err := reg.AsyncFlow(acct, p, adapter.MethodFind, map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, "v", f.Value())
}

func TestAdapter_ReadThrough(t *testing.T) {
	reg, typ, p, a := setup(t, protocol.WithPriority(900))

	backing := map[string]any{"cold": "from-backing"}
	lookups := 0
	require.NoError(t, reg.Implement(typ, p, adapter.MethodFind, func(d *flow.Deferred, args ...any) any {
		lookups++
		d.Resolve(backing[args[0].(string)])
		return nil
	}))

	f, err := reg.AsyncFlow(&account{}, p, adapter.MethodFind, "cold")
	require.NoError(t, err)
	assert.Equal(t, "from-backing", f.Value())
	assert.Equal(t, 1, a.Len(), "miss result is kept")

	f, err = reg.AsyncFlow(&account{}, p, adapter.MethodFind, "cold")
	require.NoError(t, err)
	assert.Equal(t, "from-backing", f.Value())
	assert.Equal(t, 1, lookups)
}

func TestAdapter_WriteThrough(t *testing.T) {
	reg, typ, p, a := setup(t, protocol.WithPriority(900))

	var written []any
	require.NoError(t, reg.Implement(typ, p, adapter.MethodSave, func(d *flow.Deferred, args ...any) any {
		written = append(written, args[1])
		d.Resolve("persisted")
		return nil
	}))

	f, err := reg.AsyncFlow(&account{}, p, adapter.MethodSave, "k", "v")
	require.NoError(t, err)
	assert.Equal(t, "persisted", f.Value())
	assert.Equal(t, []any{"v"}, written)
	assert.Equal(t, 1, a.Len())
}
