package identitymap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nzrmohammad/panelbridge/internal/config"
)

func writeMap(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLookupBothDirections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	writeMap(t, path, `{"ABC-123": "alice_m", " def-456 ": "bob_m", "": "ghost"}`)

	m := New(config.Config{IdentityMapPath: path}, zap.NewNop())
	assert.Equal(t, 2, m.Len())

	name, ok := m.NameFor("abc-123")
	require.True(t, ok)
	assert.Equal(t, "alice_m", name)

	// Lookup is case-insensitive on the UUID side.
	name, ok = m.NameFor("ABC-123")
	require.True(t, ok)
	assert.Equal(t, "alice_m", name)

	uuid, ok := m.UUIDFor("bob_m")
	require.True(t, ok)
	assert.Equal(t, "def-456", uuid)

	_, ok = m.NameFor("unknown")
	assert.False(t, ok)
}

func TestMissingFileDegradesToEmpty(t *testing.T) {
	m := New(config.Config{IdentityMapPath: "/does/not/exist.json"}, zap.NewNop())
	assert.Zero(t, m.Len())
	_, ok := m.NameFor("abc")
	assert.False(t, ok)
}

func TestReloadSwapsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	writeMap(t, path, `{"abc": "alice_m"}`)

	m := New(config.Config{IdentityMapPath: path}, zap.NewNop())
	require.Equal(t, 1, m.Len())

	writeMap(t, path, `{"def": "bob_m", "ghi": "carol_m"}`)
	require.NoError(t, m.Reload())

	assert.Equal(t, 2, m.Len())
	_, ok := m.NameFor("abc")
	assert.False(t, ok)
	name, ok := m.NameFor("def")
	require.True(t, ok)
	assert.Equal(t, "bob_m", name)
}

func TestReloadKeepsOldEntriesOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	writeMap(t, path, `{"abc": "alice_m"}`)

	m := New(config.Config{IdentityMapPath: path}, zap.NewNop())
	require.Equal(t, 1, m.Len())

	writeMap(t, path, `not json`)
	require.Error(t, m.Reload())

	// The previous mapping stays live.
	name, ok := m.NameFor("abc")
	require.True(t, ok)
	assert.Equal(t, "alice_m", name)
}
