package services_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
)

// newGISDBase creates location nc with PERMANENT, user1 (raster elev) and landuse (vector roads)
func newGISDBase(t *testing.T) string {
	t.Helper()
	gisdbase := t.TempDir()

	files := map[string]string{
		"nc/PERMANENT/DEFAULT_WIND":    "north: 10\nsouth: 0\n",
		"nc/PERMANENT/PROJ_INFO":       "name: Lambert\n",
		"nc/user1/WIND":                "north: 5\nsouth: 0\n",
		"nc/user1/cell/elev":           "raster",
		"nc/user1/cellhd/elev":         "header",
		"nc/landuse/vector/roads/coor": "vector",
	}
	for rel, content := range files {
		path := filepath.Join(gisdbase, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return gisdbase
}

func TestWorkspaceManager_CreateSeededFromSource(t *testing.T) {
	gisdbase := newGISDBase(t)
	tmpDir := t.TempDir()
	manager := services.NewWorkspaceManager(gisdbase, tmpDir, nil, nil)

	ws, err := manager.Create("nc", "user1", []string{"landuse"})
	require.NoError(t, err)
	defer manager.Destroy(ws)

	assert.True(t, strings.HasPrefix(filepath.Base(ws.Root), services.WorkspaceDirPrefix))
	assert.Equal(t, tmpDir, filepath.Dir(ws.Root))
	assert.True(t, strings.HasPrefix(ws.Mapset, "ephemeral_"))
	assert.Equal(t, "user1", ws.Source)

	data, err := os.ReadFile(filepath.Join(ws.MapsetPath(), "cell", "elev"))
	require.NoError(t, err)
	assert.Equal(t, "raster", string(data), "source layers are copied")

	region, err := os.ReadFile(filepath.Join(ws.MapsetPath(), "WIND"))
	require.NoError(t, err)
	assert.Equal(t, "north: 5\nsouth: 0\n", string(region), "source region is kept")

	for _, mapset := range []string{"PERMANENT", "landuse"} {
		info, err := os.Lstat(filepath.Join(ws.GISDBase, "nc", mapset))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink, "%s is linked, not copied", mapset)
	}

	gisrc, err := os.ReadFile(ws.GISRC)
	require.NoError(t, err)
	assert.Contains(t, string(gisrc), "MAPSET: "+ws.Mapset)
	assert.Contains(t, string(gisrc), "LOCATION_NAME: nc")

	assert.Contains(t, ws.Env(), "MAPSET="+ws.Mapset)
	assert.Contains(t, ws.Env(), "GISRC="+ws.GISRC)

	info, err := os.Stat(ws.ExportDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Writing into the ephemeral mapset leaves the source untouched
	require.NoError(t, os.WriteFile(filepath.Join(ws.MapsetPath(), "cell", "slope"), []byte("new"), 0644))
	_, err = os.Stat(filepath.Join(gisdbase, "nc", "user1", "cell", "slope"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspaceManager_CreateWithoutSource(t *testing.T) {
	gisdbase := newGISDBase(t)
	manager := services.NewWorkspaceManager(gisdbase, t.TempDir(), nil, nil)

	ws, err := manager.Create("nc", "new_mapset", nil)
	require.NoError(t, err)
	defer manager.Destroy(ws)

	assert.Empty(t, ws.Source, "a mapset that does not exist yet seeds nothing")

	region, err := os.ReadFile(filepath.Join(ws.MapsetPath(), "WIND"))
	require.NoError(t, err)
	assert.Equal(t, "north: 10\nsouth: 0\n", string(region), "fresh mapsets get the default region")

	layers, err := manager.Layers(ws)
	require.NoError(t, err)
	assert.Empty(t, layers[models.ElementRaster])
	assert.Empty(t, layers[models.ElementVector])
}

func TestWorkspaceManager_CreateMissingLocation(t *testing.T) {
	tmpDir := t.TempDir()
	manager := services.NewWorkspaceManager(newGISDBase(t), tmpDir, nil, nil)

	ws, err := manager.Create("nowhere", "", nil)
	require.Error(t, err)
	assert.Nil(t, ws)
	assert.Equal(t, lib.CategoryValidation, lib.CategoryOf(err))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing left behind")
}

func TestWorkspaceManager_MergeBack(t *testing.T) {
	gisdbase := newGISDBase(t)
	manager := services.NewWorkspaceManager(gisdbase, t.TempDir(), nil, nil)

	ws, err := manager.Create("nc", "user1", nil)
	require.NoError(t, err)
	defer manager.Destroy(ws)

	require.NoError(t, os.WriteFile(filepath.Join(ws.MapsetPath(), "cell", "slope"), []byte("slope"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(ws.MapsetPath(), "vector", "streams"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.MapsetPath(), "vector", "streams", "coor"), []byte("v"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.MapsetPath(), "WIND"), []byte("changed"), 0644))

	layers, err := manager.Layers(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"elev", "slope"}, layers[models.ElementRaster])
	assert.Equal(t, []string{"streams"}, layers[models.ElementVector])

	require.NoError(t, manager.MergeBack(ws, "user1"))

	target := filepath.Join(gisdbase, "nc", "user1")
	assert.FileExists(t, filepath.Join(target, "cell", "slope"))
	assert.FileExists(t, filepath.Join(target, "cell", "elev"))
	assert.FileExists(t, filepath.Join(target, "vector", "streams", "coor"))

	region, err := os.ReadFile(filepath.Join(target, "WIND"))
	require.NoError(t, err)
	assert.Equal(t, "north: 5\nsouth: 0\n", string(region), "settings of an existing mapset are kept")
}

func TestWorkspaceManager_MergeBackCreatesTarget(t *testing.T) {
	gisdbase := newGISDBase(t)
	manager := services.NewWorkspaceManager(gisdbase, t.TempDir(), nil, nil)

	ws, err := manager.Create("nc", "fresh", nil)
	require.NoError(t, err)
	defer manager.Destroy(ws)

	require.NoError(t, os.WriteFile(filepath.Join(ws.MapsetPath(), "cell", "slope"), []byte("slope"), 0644))
	require.NoError(t, manager.MergeBack(ws, "fresh"))

	assert.True(t, manager.MapsetExists("nc", "fresh"))
	assert.FileExists(t, filepath.Join(gisdbase, "nc", "fresh", "cell", "slope"))
	assert.FileExists(t, filepath.Join(gisdbase, "nc", "fresh", "WIND"))
}

func TestWorkspaceManager_MergeBackRefusesProtected(t *testing.T) {
	manager := services.NewWorkspaceManager(newGISDBase(t), t.TempDir(), nil, nil)

	ws, err := manager.Create("nc", "", nil)
	require.NoError(t, err)
	defer manager.Destroy(ws)

	err = manager.MergeBack(ws, models.PermanentMapset)
	require.Error(t, err)
	assert.Equal(t, lib.CategoryProtectedWorkspace, lib.CategoryOf(err))
}

func TestWorkspaceManager_Destroy(t *testing.T) {
	gisdbase := newGISDBase(t)
	manager := services.NewWorkspaceManager(gisdbase, t.TempDir(), nil, nil)

	ws, err := manager.Create("nc", "user1", []string{"landuse"})
	require.NoError(t, err)

	require.NoError(t, manager.Destroy(ws))
	_, err = os.Stat(ws.Root)
	assert.True(t, os.IsNotExist(err))

	assert.FileExists(t, filepath.Join(gisdbase, "nc", "landuse", "vector", "roads", "coor"), "linked mapsets survive")
	assert.FileExists(t, filepath.Join(gisdbase, "nc", "PERMANENT", "DEFAULT_WIND"))

	assert.NoError(t, manager.Destroy(nil))
	assert.NoError(t, manager.Destroy(&services.Workspace{}))
	assert.NoError(t, manager.Destroy(ws), "destroying twice is harmless")
}

func TestWorkspaceManager_KeepAlive(t *testing.T) {
	tmpDir := t.TempDir()
	manager := services.NewWorkspaceManager(newGISDBase(t), tmpDir, nil, nil)

	ws, err := manager.Create("nc", "", nil)
	require.NoError(t, err)
	defer manager.Destroy(ws)
	assert.FileExists(t, ws.Lease)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(ws.Lease, old, old))
	require.NoError(t, os.Chtimes(ws.Root, old, old))

	stop := manager.KeepAlive(ws, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		info, err := os.Stat(ws.Lease)
		return err == nil && info.ModTime().After(old.Add(time.Hour))
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	stop()

	// The janitor leaves the running job's tree alone
	removed, err := services.NewJanitor(tmpDir, 24*time.Hour, nil).RunOnce()
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.DirExists(t, ws.Root)
}
