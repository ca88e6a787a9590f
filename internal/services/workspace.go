package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

const (
	// WorkspaceDirPrefix names the private temporary trees; the janitor sweeps them
	WorkspaceDirPrefix = "geochain-"
	// LeaseFileName is touched while a job uses the workspace
	LeaseFileName = ".lease"
	// DefaultLeaseInterval is how often a running job refreshes its lease
	DefaultLeaseInterval = time.Minute

	ephemeralMapsetPrefix = "ephemeral_"
	exportDirName         = ".tmp"
	gisrcFileName         = ".gisrc"
	regionFileName        = "WIND"
	defaultRegionFileName = "DEFAULT_WIND"
)

// Workspace is the handle of one ephemeral workspace.
// It is owned by a single job and needs no locking.
type Workspace struct {
	Root      string // Private temporary tree, removed by Destroy
	GISDBase  string // Database root seen by modules (inside Root)
	Location  string
	Mapset    string // Ephemeral mapset modules write into
	Source    string // Persistent mapset the workspace was seeded from, empty if none
	ExportDir string // Scratch directory for the export pipeline
	GISRC     string
	Lease     string // Liveness marker; its mtime is the last sign of life
}

// MapsetPath returns the directory of the ephemeral mapset
func (w *Workspace) MapsetPath() string {
	return filepath.Join(w.GISDBase, w.Location, w.Mapset)
}

// Touch refreshes the lease
func (w *Workspace) Touch() error {
	now := time.Now()
	if err := os.Chtimes(w.Lease, now, now); err != nil {
		return fmt.Errorf("failed to refresh lease %s: %w", w.Lease, err)
	}
	return nil
}

// Env returns the environment every module invocation in this workspace runs with
func (w *Workspace) Env() []string {
	return []string{
		"GISRC=" + w.GISRC,
		"GISDBASE=" + w.GISDBase,
		"LOCATION_NAME=" + w.Location,
		"MAPSET=" + w.Mapset,
	}
}

// WorkspaceManager creates ephemeral workspaces below tmpDir from the
// persistent database at gisdbase
type WorkspaceManager struct {
	gisdbase  string
	tmpDir    string
	protected func(mapset string) bool
	logger    *lib.Logger
}

// NewWorkspaceManager creates a manager. An empty tmpDir means os.TempDir().
func NewWorkspaceManager(gisdbase string, tmpDir string, protected func(mapset string) bool, logger *lib.Logger) *WorkspaceManager {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if protected == nil {
		protected = func(mapset string) bool { return mapset == models.PermanentMapset }
	}
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &WorkspaceManager{gisdbase: gisdbase, tmpDir: tmpDir, protected: protected, logger: logger}
}

// MapsetExists reports whether the persistent mapset exists
func (m *WorkspaceManager) MapsetExists(location, mapset string) bool {
	info, err := os.Stat(models.WorkspaceID{Location: location, Mapset: mapset}.Path(m.gisdbase))
	return err == nil && info.IsDir()
}

// Create builds an ephemeral workspace for location.
// When source names an existing persistent mapset its content is copied into the
// ephemeral mapset. PERMANENT and every mapset in mounts are linked read-only.
// A failed Create leaves nothing behind.
func (m *WorkspaceManager) Create(location string, source string, mounts []string) (ws *Workspace, err error) {
	locationPath := filepath.Join(m.gisdbase, location)
	if !m.MapsetExists(location, models.PermanentMapset) {
		return nil, lib.WrapError(lib.CategoryValidation,
			fmt.Sprintf("Location <%s> does not exist", location),
			fmt.Errorf("no %s mapset in %s", models.PermanentMapset, locationPath))
	}

	if err := os.MkdirAll(m.tmpDir, 0755); err != nil {
		return nil, lib.WrapError(lib.CategoryFileSystem, "Cannot create temporary directory", err)
	}
	root, err := os.MkdirTemp(m.tmpDir, WorkspaceDirPrefix)
	if err != nil {
		return nil, lib.WrapError(lib.CategoryFileSystem, "Cannot create ephemeral workspace", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(root); rmErr != nil {
				m.logger.Warn("Failed to clean up partial workspace", "path", root, "error", rmErr)
			}
			ws = nil
		}
	}()

	ws = &Workspace{
		Root:      root,
		GISDBase:  root,
		Location:  location,
		Mapset:    ephemeralMapsetPrefix + strings.ReplaceAll(uuid.New().String(), "-", ""),
		ExportDir: filepath.Join(root, exportDirName),
		GISRC:     filepath.Join(root, gisrcFileName),
		Lease:     filepath.Join(root, LeaseFileName),
	}

	if err := os.WriteFile(ws.Lease, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot write workspace lease", err)
	}

	ephemeralLocation := filepath.Join(root, location)
	if err := os.MkdirAll(ephemeralLocation, 0755); err != nil {
		return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot create ephemeral location", err)
	}

	linked := map[string]bool{}
	for _, mapset := range append([]string{models.PermanentMapset}, mounts...) {
		if linked[mapset] || mapset == "" {
			continue
		}
		linked[mapset] = true
		if !m.MapsetExists(location, mapset) {
			m.logger.Warn("Referenced mapset does not exist", "location", location, "mapset", mapset)
			continue
		}
		target, err := filepath.Abs(filepath.Join(locationPath, mapset))
		if err != nil {
			return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot resolve mapset path", err)
		}
		if err := os.Symlink(target, filepath.Join(ephemeralLocation, mapset)); err != nil {
			return ws, lib.WrapError(lib.CategoryFileSystem, fmt.Sprintf("Cannot link mapset <%s>", mapset), err)
		}
	}

	mapsetPath := ws.MapsetPath()
	if source != "" && m.MapsetExists(location, source) {
		ws.Source = source
		if err := copyTree(filepath.Join(locationPath, source), mapsetPath, m.logger); err != nil {
			return ws, lib.WrapError(lib.CategoryFileSystem, fmt.Sprintf("Cannot copy mapset <%s>", source), err)
		}
	}

	for _, element := range models.LayerElements {
		if err := os.MkdirAll(filepath.Join(mapsetPath, element), 0755); err != nil {
			return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot create ephemeral mapset", err)
		}
	}

	if err := m.seedRegion(locationPath, mapsetPath); err != nil {
		return ws, err
	}

	if err := os.MkdirAll(ws.ExportDir, 0755); err != nil {
		return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot create export directory", err)
	}

	gisrc := fmt.Sprintf("GISDBASE: %s\nLOCATION_NAME: %s\nMAPSET: %s\nGUI: text\n", ws.GISDBase, ws.Location, ws.Mapset)
	if err := os.WriteFile(ws.GISRC, []byte(gisrc), 0644); err != nil {
		return ws, lib.WrapError(lib.CategoryFileSystem, "Cannot write GISRC file", err)
	}

	m.logger.Debug("Ephemeral workspace created",
		"root", root,
		"location", location,
		"mapset", ws.Mapset,
		"source", ws.Source,
	)
	return ws, nil
}

// KeepAlive touches the lease of ws every interval until the returned stop
// function is called. Stop waits for the refresher to exit.
func (m *WorkspaceManager) KeepAlive(ws *Workspace, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultLeaseInterval
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.Touch(); err != nil {
					m.logger.Warn("Failed to refresh workspace lease", "root", ws.Root, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// seedRegion gives a fresh mapset the default region of the location
func (m *WorkspaceManager) seedRegion(locationPath, mapsetPath string) error {
	regionPath := filepath.Join(mapsetPath, regionFileName)
	if _, err := os.Stat(regionPath); err == nil {
		return nil
	}
	defaultRegion := filepath.Join(locationPath, models.PermanentMapset, defaultRegionFileName)
	if _, err := os.Stat(defaultRegion); err != nil {
		return nil
	}
	if err := copyFile(defaultRegion, regionPath, 0644, m.logger); err != nil {
		return lib.WrapError(lib.CategoryFileSystem, "Cannot seed region", err)
	}
	return nil
}

// Layers lists the layers of the ephemeral mapset per element directory
func (m *WorkspaceManager) Layers(ws *Workspace) (map[string][]string, error) {
	layers := map[string][]string{}
	for _, element := range models.LayerElements {
		entries, err := os.ReadDir(filepath.Join(ws.MapsetPath(), element))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s layers: %w", element, err)
		}
		for _, entry := range entries {
			layers[element] = append(layers[element], entry.Name())
		}
		sort.Strings(layers[element])
	}
	return layers, nil
}

// MergeBack copies the content of the ephemeral mapset into the persistent
// mapset target, creating it when it does not exist yet.
// Existing layers of the same name are replaced.
func (m *WorkspaceManager) MergeBack(ws *Workspace, target string) error {
	targetID := models.WorkspaceID{Location: ws.Location, Mapset: target}
	if m.protected(target) {
		return lib.ErrProtectedWorkspace(targetID)
	}

	targetPath := targetID.Path(m.gisdbase)
	created := !m.MapsetExists(ws.Location, target)
	if err := os.MkdirAll(targetPath, 0755); err != nil {
		return lib.WrapError(lib.CategoryFileSystem, fmt.Sprintf("Cannot create mapset <%s>", target), err)
	}

	entries, err := os.ReadDir(ws.MapsetPath())
	if err != nil {
		return lib.WrapError(lib.CategoryFileSystem, "Cannot read ephemeral mapset", err)
	}

	for _, entry := range entries {
		src := filepath.Join(ws.MapsetPath(), entry.Name())
		dst := filepath.Join(targetPath, entry.Name())

		if !entry.IsDir() {
			// Mapset settings of an existing target are kept
			if !created {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return lib.WrapError(lib.CategoryFileSystem, "Cannot stat mapset file", err)
			}
			if err := copyFile(src, dst, info.Mode().Perm(), m.logger); err != nil {
				return lib.WrapError(lib.CategoryFileSystem, "Cannot merge mapset file", err)
			}
			continue
		}

		if err := copyTree(src, dst, m.logger); err != nil {
			return lib.WrapError(lib.CategoryFileSystem, fmt.Sprintf("Cannot merge element <%s>", entry.Name()), err)
		}
	}

	m.logger.Info("Merged ephemeral workspace",
		"location", ws.Location,
		"mapset", target,
		"created", created,
	)
	return nil
}

// Destroy removes the whole temporary tree. A nil or partial handle is fine.
func (m *WorkspaceManager) Destroy(ws *Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", ws.Root, err)
	}
	m.logger.Debug("Ephemeral workspace destroyed", "root", ws.Root)
	return nil
}
