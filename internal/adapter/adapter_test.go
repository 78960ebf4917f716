package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
)

type stubLeaf struct{}

func (stubLeaf) Save() flow.DeferredStep   { return resolveWith("saved") }
func (stubLeaf) Find() flow.DeferredStep   { return resolveWith("found") }
func (stubLeaf) Remove() flow.DeferredStep { return resolveWith("removed") }

func resolveWith(v any) flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		d.Resolve(v)
		return nil
	}
}

type box struct{}

func TestBind_DeclaredMethodsOnly(t *testing.T) {
	reg := protocol.NewRegistry()
	typ, err := reg.DefineType("Box", &box{})
	require.NoError(t, err)

	p := protocol.New("Lookup")
	p.MustMethod(MethodFind, protocol.ModeAsyncFlow)
	require.NoError(t, reg.Attach(typ, p))

	require.NoError(t, Bind(reg, typ, p, stubLeaf{}))

	f, err := reg.AsyncFlow(&box{}, p, MethodFind, "k")
	require.NoError(t, err)
	assert.Equal(t, "found", f.Value())

	impls, err := reg.Lookup(&box{}, p, MethodFind)
	require.NoError(t, err)
	assert.Len(t, impls, 1)
}

func TestBind_NoMethods(t *testing.T) {
	reg := protocol.NewRegistry()
	typ, err := reg.DefineType("Box", &box{})
	require.NoError(t, err)

	p := protocol.New("Empty")
	require.NoError(t, reg.Attach(typ, p))

	err = Bind(reg, typ, p, stubLeaf{})
	assert.ErrorContains(t, err, "declares none")
}

func TestBind_WrongMode(t *testing.T) {
	reg := protocol.NewRegistry()
	typ, err := reg.DefineType("Box", &box{})
	require.NoError(t, err)

	p := protocol.New("Sync")
	p.MustMethod(MethodSave, protocol.ModeSingle)
	require.NoError(t, reg.Attach(typ, p))

	err = Bind(reg, typ, p, stubLeaf{})
	assert.True(t, protocol.IsDefinitionError(err, ""))
}

func TestKey(t *testing.T) {
	k, err := Key([]any{"user-1"})
	require.NoError(t, err)
	assert.Equal(t, ir.String("user-1"), k)

	_, err = Key(nil)
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = Key([]any{1.5})
	assert.Error(t, err)

	s, err := KeyString(ir.Object{"b": ir.Int(1), "a": ir.Int(2)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, s)
}

func TestPayload(t *testing.T) {
	v, err := Payload([]any{"k", 42})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Payload([]any{"k"})
	assert.ErrorIs(t, err, ErrMissingArgument)
}
