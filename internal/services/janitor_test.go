package services_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/services"
)

func makeAgedDir(t *testing.T, parent, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(filepath.Join(path, "nc"), 0755))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestJanitor_RunOnce(t *testing.T) {
	tmpDir := t.TempDir()

	stale := makeAgedDir(t, tmpDir, services.WorkspaceDirPrefix+"stale", 48*time.Hour)
	fresh := makeAgedDir(t, tmpDir, services.WorkspaceDirPrefix+"fresh", time.Minute)
	foreign := makeAgedDir(t, tmpDir, "someone-else", 48*time.Hour)

	janitor := services.NewJanitor(tmpDir, 24*time.Hour, nil)
	removed, err := janitor.RunOnce()
	require.NoError(t, err)

	assert.Equal(t, []string{stale}, removed)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, foreign, "only workspace trees are swept")
}

func TestJanitor_RunOnceKeepsLeasedWorkspace(t *testing.T) {
	tmpDir := t.TempDir()

	// A job running longer than maxAge: its tree is old but the lease is fresh
	live := filepath.Join(tmpDir, services.WorkspaceDirPrefix+"live")
	require.NoError(t, os.MkdirAll(filepath.Join(live, "nc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(live, services.LeaseFileName), []byte("1\n"), 0644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(live, old, old))

	// A crashed job: both the tree and its lease are old
	dead := filepath.Join(tmpDir, services.WorkspaceDirPrefix+"dead")
	require.NoError(t, os.MkdirAll(filepath.Join(dead, "nc"), 0755))
	deadLease := filepath.Join(dead, services.LeaseFileName)
	require.NoError(t, os.WriteFile(deadLease, []byte("1\n"), 0644))
	require.NoError(t, os.Chtimes(deadLease, old, old))
	require.NoError(t, os.Chtimes(dead, old, old))

	janitor := services.NewJanitor(tmpDir, 24*time.Hour, nil)
	removed, err := janitor.RunOnce()
	require.NoError(t, err)

	assert.Equal(t, []string{dead}, removed)
	assert.DirExists(t, live)
	assert.NoDirExists(t, dead)
}

func TestJanitor_MissingTmpDir(t *testing.T) {
	janitor := services.NewJanitor(filepath.Join(t.TempDir(), "missing"), time.Hour, nil)
	removed, err := janitor.RunOnce()
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestJanitor_Schedule(t *testing.T) {
	tmpDir := t.TempDir()
	stale := makeAgedDir(t, tmpDir, services.WorkspaceDirPrefix+"stale", 48*time.Hour)

	janitor := services.NewJanitor(tmpDir, time.Hour, nil)
	require.NoError(t, janitor.Start("@every 1s"))
	assert.Error(t, janitor.Start("@every 1s"), "already started")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 5*time.Second, 50*time.Millisecond)

	janitor.Stop()
	janitor.Stop()
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	janitor := services.NewJanitor(t.TempDir(), time.Hour, nil)
	err := janitor.Start("every now and then")
	require.Error(t, err)
	assert.Equal(t, lib.CategoryConfiguration, lib.CategoryOf(err))
}
