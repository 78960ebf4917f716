package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const identitySpec = `
package test

protocol: Identity: {
	methods: id: "single"
	values: prefix: default: "acct"
}
`

const storeSpec = `
package test

protocol: Store: {
	requires: ["Identity"]
	methods: {
		save: "async_flow"
		find: "async_flow"
	}
	values: fields: {
		accumulate: true
		default: []
	}
}
`

// writeFiles writes name -> content into a fresh temp dir and returns it.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

// validSpecsDir holds Identity and Store in two files of one package.
func validSpecsDir(t *testing.T) string {
	t.Helper()
	return writeFiles(t, map[string]string{
		"identity.cue": identitySpec,
		"store.cue":    storeSpec,
	})
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
