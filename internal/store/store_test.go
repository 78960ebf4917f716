package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPragmas(t *testing.T) {
	s := setupTestStore(t)

	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, value := range want {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, value, got, name)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := setupTestStore(t)

	objects := map[string]string{
		"calls":                      "table",
		"outcomes":                   "table",
		"records":                    "table",
		"idx_records_collection_key": "index",
		"idx_calls_ref":              "index",
	}
	for name, kind := range objects {
		var got string
		err := s.DB().QueryRow(
			"SELECT type FROM sqlite_master WHERE name = ?", name,
		).Scan(&got)
		require.NoError(t, err, name)
		assert.Equal(t, kind, got, name)
	}

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", version)
	assert.Equal(t, 2, currentSchemaVersion)
}

func TestOpenMigratesOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec("DROP INDEX idx_calls_ref")
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	require.NoError(t, s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_calls_ref'",
	).Scan(&name))
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", version)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "memory", mode)
}

func TestCloseZeroStore(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}
