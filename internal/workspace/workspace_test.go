package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEphemeralCreateAndCleanup(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)

	require.NoError(t, m.Create())
	path := m.GetPath()
	require.True(t, strings.HasPrefix(filepath.Base(path), "cratedocs-"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.NoError(t, m.Cleanup())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Empty(t, m.GetPath())
}

func TestPersistentSurvivesCleanup(t *testing.T) {
	base := t.TempDir()
	m := NewPersistentManager(base, "working")

	require.NoError(t, m.Create())
	path := m.GetPath()
	require.Equal(t, filepath.Join(base, "working"), path)

	require.NoError(t, m.Cleanup())
	_, err := os.Stat(path)
	require.NoError(t, err, "persistent workspace must survive cleanup")
}

func TestCrateDir(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Create())
	t.Cleanup(func() { _ = m.Cleanup() })

	dir, err := m.CrateDir("serde", "1.0.219")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(m.GetPath(), "serde-1.0.219"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCrateDirRequiresCreatedWorkspace(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.CrateDir("serde", "1.0.0")
	require.Error(t, err)
}
