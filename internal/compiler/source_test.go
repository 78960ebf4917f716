package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAll_DeclarationOrder(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
protocol: {
	Identity: methods: id: "single"
	Store: {
		requires: ["Identity"]
		methods: find: "async_flow"
	}
}
`, cue.Filename("set.cue"))

	specs, err := CompileAll(v)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "Identity", specs[0].Name)
	assert.Equal(t, "Store", specs[1].Name)
	assert.Equal(t, []string{"Identity"}, specs[1].Requires)
}

func TestCompileAll_NoProtocolField(t *testing.T) {
	ctx := cuecontext.New()
	specs, err := CompileAll(ctx.CompileString(`other: 1`))
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestCompileAll_NotAStruct(t *testing.T) {
	ctx := cuecontext.New()
	_, err := CompileAll(ctx.CompileString(`protocol: 3`))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ProtocolPath, ce.Field)
}

func TestCompileAll_PropagatesMemberErrors(t *testing.T) {
	ctx := cuecontext.New()
	_, err := CompileAll(ctx.CompileString(`protocol: Bad: values: ratio: default: 1.5`, cue.Filename("bad.cue")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float values are forbidden")
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codec.cue")
	require.NoError(t, os.WriteFile(path, []byte(`protocol: Codec: methods: encode: "flow"`), 0o644))

	specs, err := CompileFile(cuecontext.New(), path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Codec", specs[0].Name)

	_, err = CompileFile(cuecontext.New(), filepath.Join(dir, "missing.cue"))
	require.Error(t, err)
}
