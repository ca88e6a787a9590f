package pipeline_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/pipeline"
	"github.com/trobanga/geochain/internal/services"
	"github.com/trobanga/geochain/internal/storage"
)

func newLocalBackend(t *testing.T) *storage.Local {
	t.Helper()
	backend := storage.NewLocal(models.LocalStorageConfig{BaseDir: t.TempDir()}, "alice", "resource_id-1")
	require.NoError(t, backend.Setup(context.Background()))
	return backend
}

func exportEntry(name string, typ models.ResourceType, format models.ExportFormat) models.Output {
	return models.Output{Param: "output", Name: name, Export: &models.ExportDescriptor{Type: typ, Format: format}}
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			names = append(names, filepath.Base(f.Name))
		}
	}
	sort.Strings(names)
	return names
}

func TestExporter_Raster(t *testing.T) {
	modules := newFakeModules()
	ws := newWorkspace(t, "")
	backend := newLocalBackend(t)
	job := runningJob(t, "", nil)

	entries := []models.Output{exportEntry("my_slope", models.ResourceRaster, models.FormatGTiff)}
	err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, ws, backend, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"r.out.gdal"}, modules.modules())
	assert.Equal(t, []string{
		"-fm", "input=my_slope", "format=GTiff", "createopt=COMPRESS=LZW",
		"output=" + filepath.Join(ws.ExportDir, "my_slope.tiff"),
	}, modules.call(0).Args)

	stored := filepath.Join(backend.JobDir(), "my_slope.tiff")
	assert.Equal(t, []string{stored}, job.Resources)
	assert.FileExists(t, stored)
	assert.NoFileExists(t, filepath.Join(ws.ExportDir, "my_slope.tiff"))
	assert.Equal(t, models.Progress{Step: 1, NumOfSteps: 1}, job.Progress)
}

func TestExporter_RasterRegion(t *testing.T) {
	modules := newFakeModules()
	job := runningJob(t, "", nil)
	entry := exportEntry("my_slope", models.ResourceRaster, models.FormatGTiff)
	entry.Export.Options = []string{"nodata=-9999"}

	err := pipeline.NewExporter(modules, nil, nil, true).ExportAll(context.Background(), job,
		[]models.Output{entry}, newWorkspace(t, ""), newLocalBackend(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"g.region", "r.out.gdal"}, modules.modules())
	assert.Equal(t, []string{"raster=my_slope", "-g"}, modules.call(0).Args)
	assert.Contains(t, modules.call(1).Args, "nodata=-9999")
	assert.Equal(t, models.Progress{Step: 2, NumOfSteps: 2}, job.Progress)
}

func TestExporter_VectorFormats(t *testing.T) {
	tests := []struct {
		name      string
		format    models.ExportFormat
		wantFile  string
		wantInZip []string
	}{
		{"geojson", models.FormatGeoJSON, "roads.json.zip", []string{"roads.json"}},
		{"gml", models.FormatGML, "roads.gml.zip", []string{"roads.gml"}},
		{"shapefile", models.FormatESRIShapefile, "roads.zip", []string{"roads.dbf", "roads.shp", "roads.shx"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules := newFakeModules()
			ws := newWorkspace(t, "")
			backend := newLocalBackend(t)
			job := runningJob(t, "", nil)

			entries := []models.Output{exportEntry("roads@landuse", models.ResourceVector, tt.format)}
			err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, ws, backend, nil)
			require.NoError(t, err)

			call := modules.call(0)
			assert.Equal(t, "v.out.ogr", call.Name)
			assert.Equal(t, ws.ExportDir, call.Dir)
			assert.Contains(t, call.Args, "input=roads@landuse")
			assert.Contains(t, call.Args, "format="+string(tt.format))

			stored := filepath.Join(backend.JobDir(), tt.wantFile)
			assert.Equal(t, []string{stored}, job.Resources)
			assert.Equal(t, tt.wantInZip, zipEntries(t, stored))

			// Export plus compression
			assert.Equal(t, models.Progress{Step: 2, NumOfSteps: 2}, job.Progress)

			left, err := os.ReadDir(ws.ExportDir)
			require.NoError(t, err)
			assert.Empty(t, left, "raw exports are removed")
		})
	}
}

func TestExporter_SkipsFileEntries(t *testing.T) {
	modules := newFakeModules()
	job := runningJob(t, "", nil)
	entries := []models.Output{
		{Param: "output", Name: "report", Export: &models.ExportDescriptor{Type: models.ResourceFile}},
		exportEntry("my_slope", models.ResourceRaster, models.FormatGTiff),
	}

	err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, newWorkspace(t, ""), newLocalBackend(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"r.out.gdal"}, modules.modules())
	assert.Len(t, job.Resources, 1)
}

func TestExporter_ModuleFailure(t *testing.T) {
	modules := newFakeModules()
	modules.failures["r.out.gdal"] = 1
	job := runningJob(t, "", nil)

	entries := []models.Output{
		exportEntry("a", models.ResourceRaster, models.FormatGTiff),
		exportEntry("b", models.ResourceRaster, models.FormatGTiff),
	}
	err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, newWorkspace(t, ""), newLocalBackend(t), nil)
	require.Error(t, err)

	assert.Equal(t, lib.CategoryExport, lib.CategoryOf(err))
	assert.True(t, lib.IsCategory(err, lib.CategoryModuleExecution))
	assert.Len(t, modules.modules(), 1, "remaining entries are not attempted")
	assert.Empty(t, job.Resources)
}

func TestExporter_MissingOutputFile(t *testing.T) {
	modules := newFakeModules()
	modules.silent["v.out.ogr"] = true
	job := runningJob(t, "", nil)

	entries := []models.Output{exportEntry("roads", models.ResourceVector, models.FormatGeoJSON)}
	err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, newWorkspace(t, ""), newLocalBackend(t), nil)
	require.Error(t, err)
	assert.Equal(t, lib.CategoryExport, lib.CategoryOf(err))
	assert.Empty(t, job.Resources)
}

func TestExporter_TerminationBetweenEntries(t *testing.T) {
	modules := newFakeModules()
	job := runningJob(t, "", nil)
	probe := func(context.Context) (bool, error) { return len(job.Resources) >= 1, nil }

	entries := []models.Output{
		exportEntry("a", models.ResourceRaster, models.FormatGTiff),
		exportEntry("b", models.ResourceRaster, models.FormatGTiff),
	}
	err := pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, newWorkspace(t, ""), newLocalBackend(t), probe)
	require.Error(t, err)
	assert.Equal(t, lib.CategoryTerminated, lib.CategoryOf(err))
	assert.Len(t, job.Resources, 1)
}

// uploadBackend keeps the source like the object store backends
type uploadBackend struct {
	storage.Backend
	uploaded []string
}

func (u *uploadBackend) MovesSource() bool { return false }

func (u *uploadBackend) Store(_ context.Context, localPath string) (models.StoredResource, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return models.StoredResource{}, err
	}
	u.uploaded = append(u.uploaded, filepath.Base(localPath)+":"+string(data))
	return models.StoredResource{Locator: "mem://" + filepath.Base(localPath)}, nil
}

func (u *uploadBackend) Name() string { return "upload" }

func TestExporter_RemovesUploadedFiles(t *testing.T) {
	modules := newFakeModules()
	ws := newWorkspace(t, "")
	backend := &uploadBackend{}
	job := runningJob(t, "", nil)

	entries := []models.Output{exportEntry("my_slope", models.ResourceRaster, models.FormatGTiff)}
	require.NoError(t, pipeline.NewExporter(modules, nil, nil, false).ExportAll(context.Background(), job, entries, ws, backend, services.NeverCancel))

	assert.Equal(t, []string{"my_slope.tiff:GTiff:my_slope"}, backend.uploaded)
	assert.Equal(t, []string{"mem://my_slope.tiff"}, job.Resources)
	assert.NoFileExists(t, filepath.Join(ws.ExportDir, "my_slope.tiff"))
}

func TestExportFileNames(t *testing.T) {
	assert.Equal(t, "elevation.tiff", pipeline.RasterFileName("elevation@PERMANENT"))
	assert.Equal(t, "roads.json.zip", pipeline.VectorFileName("roads", models.FormatGeoJSON))
	assert.Equal(t, "roads.zip", pipeline.VectorFileName("roads@landuse", models.FormatESRIShapefile))
}
