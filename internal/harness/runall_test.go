package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	paths, err := Discover("testdata")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "async_failure.yaml"),
		filepath.Join("testdata", "scenarios", "cache_read_through.yaml"),
		filepath.Join("testdata", "scenarios", "dispatch_modes.yaml"),
		filepath.Join("testdata", "scenarios", "greeting.yaml"),
	}, paths)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover("testdata/nope")
	require.Error(t, err)
}

func TestRunAll_KeepsOrderAndIsolation(t *testing.T) {
	paths, err := Discover("testdata/scenarios")
	require.NoError(t, err)

	// Run every scenario twice, concurrently; each run owns its store and
	// registry, so the copies cannot interfere.
	all := append(append([]string{}, paths...), paths...)
	reports, err := RunAll(context.Background(), all, 3)
	require.NoError(t, err)
	require.Len(t, reports, len(all))

	for i, rep := range reports {
		assert.Equal(t, all[i], rep.Path)
		assert.True(t, rep.Passed(), "%s: err=%v result=%+v", rep.Path, rep.Err, rep.Result)
	}
	assert.Equal(t, reports[0].Result.Trace, reports[len(paths)].Result.Trace)
}

func TestRunAll_ReportsLoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [unclosed"), 0o644))

	reports, err := RunAll(context.Background(), []string{bad}, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed())
	assert.Contains(t, reports[0].Err.Error(), "failed to parse YAML")
}

func TestRunAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := RunAll(ctx, []string{"testdata/scenarios/greeting.yaml"}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, reports[0].Err, context.Canceled)
}
