package models

import "fmt"

// ResourceType is the category of an exported output
type ResourceType string

const (
	ResourceRaster ResourceType = "raster"
	ResourceVector ResourceType = "vector"
	ResourceFile   ResourceType = "file"
)

// ExportFormat is the file format requested for an exported output
type ExportFormat string

const (
	FormatGTiff         ExportFormat = "GTiff"
	FormatGML           ExportFormat = "GML"
	FormatGeoJSON       ExportFormat = "GeoJSON"
	FormatESRIShapefile ExportFormat = "ESRI_Shapefile"
	FormatSQLite        ExportFormat = "SQLite"
	FormatCSV           ExportFormat = "CSV"
)

type formatSpec struct {
	resourceType ResourceType
	extension    string
}

// exportFormats maps every supported format to its resource type and file extension.
// ESRI_Shapefile exports into a directory, hence no extension.
var exportFormats = map[ExportFormat]formatSpec{
	FormatGTiff:         {ResourceRaster, ".tiff"},
	FormatGML:           {ResourceVector, ".gml"},
	FormatGeoJSON:       {ResourceVector, ".json"},
	FormatESRIShapefile: {ResourceVector, ""},
	FormatSQLite:        {ResourceVector, ".sqlite"},
	FormatCSV:           {ResourceVector, ".csv"},
}

// DefaultFormat returns the format used when an export descriptor names none
func DefaultFormat(t ResourceType) ExportFormat {
	switch t {
	case ResourceRaster:
		return FormatGTiff
	case ResourceVector:
		return FormatGML
	default:
		return ""
	}
}

// IsValidResourceType checks if the resource type is recognized
func IsValidResourceType(t ResourceType) bool {
	return t == ResourceRaster || t == ResourceVector || t == ResourceFile
}

// Extension returns the file extension for the format
func (f ExportFormat) Extension() string {
	return exportFormats[f].extension
}

// ExportDescriptor declares how an output is exported
type ExportDescriptor struct {
	Type    ResourceType `json:"type"`
	Format  ExportFormat `json:"format,omitempty"`
	Options []string     `json:"options,omitempty"` // Extra module arguments
}

// Validate checks that type and format form a supported combination
func (d ExportDescriptor) Validate() error {
	if !IsValidResourceType(d.Type) {
		return fmt.Errorf("unsupported export type %q", d.Type)
	}
	if d.Type == ResourceFile {
		return nil
	}
	spec, ok := exportFormats[d.Format]
	if !ok {
		return fmt.Errorf("unsupported export format %q", d.Format)
	}
	if spec.resourceType != d.Type {
		return fmt.Errorf("export format %q is not available for %s layers", d.Format, d.Type)
	}
	return nil
}
