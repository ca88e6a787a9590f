package models

import (
	"path/filepath"
	"strings"
)

// PermanentMapset is the mapset holding the location's projection and default region.
// It is never a processing target.
const PermanentMapset = "PERMANENT"

// Layer element directories inside a mapset
const (
	ElementRaster = "cell"
	ElementVector = "vector"
)

// LayerElements lists the element directories that hold layers
var LayerElements = []string{ElementRaster, ElementVector}

// WorkspaceID identifies a mapset inside a location
type WorkspaceID struct {
	Location string `json:"location"`
	Mapset   string `json:"mapset"`
}

func (w WorkspaceID) String() string {
	return w.Location + "/" + w.Mapset
}

// Path returns the mapset directory below a GIS database root
func (w WorkspaceID) Path(gisdbase string) string {
	return filepath.Join(gisdbase, w.Location, w.Mapset)
}

// SplitQualifiedName splits "name@mapset" into its parts.
// The mapset is empty for unqualified names.
func SplitQualifiedName(name string) (string, string) {
	base, mapset, found := strings.Cut(name, "@")
	if !found {
		return name, ""
	}
	return base, mapset
}

// StoredResource records one file persisted by a storage backend
type StoredResource struct {
	SourcePath string `json:"source_path"`
	Locator    string `json:"locator"`
	Backend    string `json:"backend"`
	Key        string `json:"key,omitempty"` // Backend specific object key or path
}
