package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoflow/internal/flow"
)

func TestProtocol_MethodRedeclareSameModeIsIdempotent(t *testing.T) {
	p := New("Store")

	m1, err := p.Method("find", ModeAsyncFlow)
	require.NoError(t, err)
	m2, err := p.Method("find", ModeAsyncFlow)
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Len(t, p.Methods(), 1)
}

func TestProtocol_MethodRedeclareDifferentModeFails(t *testing.T) {
	p := New("Store")
	p.MustMethod("find", ModeAsyncFlow)

	_, err := p.Method("find", ModeSingle)
	require.Error(t, err)
	assert.True(t, IsDefinitionError(err, ErrCodeIncompatibleMember))
	assert.Contains(t, err.Error(), "protocol=Store")
}

func TestProtocol_ValueRedeclareAccumulateMismatchFails(t *testing.T) {
	p := New("Store")
	p.MustValue("fields", Accumulate())

	_, err := p.Value("fields")
	assert.True(t, IsDefinitionError(err, ErrCodeIncompatibleMember))

	_, err = p.Value("fields", Accumulate())
	assert.NoError(t, err)
}

func TestProtocol_MethodAndValueShareNamespace(t *testing.T) {
	p := New("Store")
	p.MustMethod("name", ModeSingle)

	_, err := p.Value("name")
	assert.True(t, IsDefinitionError(err, ErrCodeIncompatibleMember))
}

func TestProtocol_InvalidDeclarations(t *testing.T) {
	p := New("Store")

	_, err := p.Method("", ModeSingle)
	assert.True(t, IsDefinitionError(err, ErrCodeInvalidName))

	_, err = p.Method("x", Mode("sometimes"))
	assert.True(t, IsDefinitionError(err, ""))

	_, err = p.Method("y", ModeSingle, Accumulate())
	assert.True(t, IsDefinitionError(err, ErrCodeInvalidDefault))

	_, err = p.Method("z", ModeFlow, WithDefault(func(target any) any { return nil }))
	assert.True(t, IsDefinitionError(err, ErrCodeInvalidDefault))
}

func TestProtocol_TokensAreUnique(t *testing.T) {
	a := New("A").MustMethod("m", ModeSingle)
	b := New("B").MustMethod("m", ModeSingle)

	assert.NotEqual(t, a.Token(), b.Token(), "same method name in two protocols must not share a token")
	assert.False(t, a.Token().IsZero())
}

func TestProtocol_MembersKeepDeclarationOrder(t *testing.T) {
	p := New("Store")
	p.MustMethod("save", ModeAsyncFlow)
	p.MustMethod("find", ModeAsyncFlow)
	p.MustMethod("remove", ModeAsyncFlow)

	var names []string
	for _, m := range p.Methods() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"save", "find", "remove"}, names)
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("eventually")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		fn   any
		ok   bool
	}{
		{"single literal", ModeSingle, func(any, ...any) any { return nil }, true},
		{"single named", ModeAll, Func(func(any, ...any) any { return nil }), true},
		{"flow literal", ModeFlow, func(*flow.Pipeline, ...any) any { return nil }, true},
		{"async_flow literal", ModeAsyncFlow, func(*flow.Deferred, ...any) any { return nil }, true},
		{"cached literal", ModeCached, func(any) any { return nil }, true},
		{"async literal", ModeAsync, func(any) *flow.Future { return nil }, true},
		{"wrong signature", ModeFlow, func(any, ...any) any { return nil }, false},
		{"nil", ModeSingle, nil, false},
		{"typed nil", ModeSingle, Func(nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := normalize(tt.mode, tt.fn)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
