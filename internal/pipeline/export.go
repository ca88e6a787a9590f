package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
	"github.com/trobanga/geochain/internal/storage"
)

// Export modules
const (
	RasterExportModule = "r.out.gdal"
	VectorExportModule = "v.out.ogr"
)

// Exporter converts layers of an ephemeral workspace into files and hands
// them to a storage backend
type Exporter struct {
	invoker
	useRasterRegion bool
}

// NewExporter creates an exporter. With useRasterRegion every raster export is
// preceded by a g.region call matching the layer's extent and resolution.
func NewExporter(runner services.Runner, logger *lib.Logger, onProgress ProgressFunc, useRasterRegion bool) *Exporter {
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &Exporter{
		invoker:         invoker{runner: runner, logger: logger, onProgress: onProgress},
		useRasterRegion: useRasterRegion,
	}
}

// ExportAll exports entries in order and appends each stored locator to the job.
// The probe is polled before every entry. Any failure aborts the remaining entries.
func (x *Exporter) ExportAll(ctx context.Context, job *models.Job, entries []models.Output, ws *services.Workspace, backend storage.Backend, probe services.CancelProbe) error {
	for _, entry := range entries {
		if err := checkCancel(ctx, probe, "Export"); err != nil {
			return err
		}
		if entry.Export == nil {
			continue
		}

		var (
			path string
			err  error
		)
		switch entry.Export.Type {
		case models.ResourceFile:
			x.logger.Debug("Skipping file export entry", "job_id", job.ResourceID, "output", entry.Name)
			continue
		case models.ResourceRaster:
			path, err = x.exportRaster(ctx, job, ws, entry)
		case models.ResourceVector:
			path, err = x.exportVector(ctx, job, ws, entry)
		default:
			err = fmt.Errorf("unsupported export type %q", entry.Export.Type)
		}
		if err != nil {
			return lib.ErrExport(entry.Name, err)
		}

		resource, err := backend.Store(ctx, path)
		if err != nil {
			return lib.ErrExport(entry.Name, err)
		}
		if !backend.MovesSource() {
			if err := os.Remove(path); err != nil {
				x.logger.Warn("Failed to remove exported file", "path", path, "error", err)
			}
		}

		job.AddResource(resource.Locator)
		job.AddMessage(fmt.Sprintf("Exported <%s> to %s", entry.Name, resource.Locator))
		x.logger.Info("Resource stored",
			"job_id", job.ResourceID,
			"output", entry.Name,
			"backend", backend.Name(),
			"locator", resource.Locator,
		)
		x.progress(job)
	}
	return nil
}

// RasterFileName is the exported file name of a raster layer
func RasterFileName(layer string) string {
	base, _ := models.SplitQualifiedName(layer)
	return base + models.FormatGTiff.Extension()
}

// VectorFileName is the name of the stored archive of a vector layer
func VectorFileName(layer string, format models.ExportFormat) string {
	base, _ := models.SplitQualifiedName(layer)
	return base + format.Extension() + ".zip"
}

func (x *Exporter) exportRaster(ctx context.Context, job *models.Job, ws *services.Workspace, entry models.Output) (string, error) {
	if x.useRasterRegion {
		region := services.Command{Name: RegionModule, Args: []string{"raster=" + entry.Name, "-g"}}
		if _, err := x.invoke(ctx, job, ws, region); err != nil {
			return "", err
		}
	}

	output := filepath.Join(ws.ExportDir, RasterFileName(entry.Name))
	args := []string{
		"-fm",
		"input=" + entry.Name,
		"format=" + string(models.FormatGTiff),
		"createopt=COMPRESS=LZW",
		"output=" + output,
	}
	args = append(args, entry.Export.Options...)

	if _, err := x.invoke(ctx, job, ws, services.Command{Name: RasterExportModule, Args: args}); err != nil {
		return "", err
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("%s produced no output file: %w", RasterExportModule, err)
	}
	return output, nil
}

func (x *Exporter) exportVector(ctx context.Context, job *models.Job, ws *services.Workspace, entry models.Output) (string, error) {
	base, _ := models.SplitQualifiedName(entry.Name)
	format := entry.Export.Format
	exported := base + format.Extension()

	args := []string{
		"-e",
		"input=" + entry.Name,
		"format=" + string(format),
		"output=" + exported,
	}
	args = append(args, entry.Export.Options...)

	cmd := services.Command{Name: VectorExportModule, Args: args, Dir: ws.ExportDir}
	if _, err := x.invoke(ctx, job, ws, cmd); err != nil {
		return "", err
	}

	exportedPath := filepath.Join(ws.ExportDir, exported)
	if _, err := os.Stat(exportedPath); err != nil {
		return "", fmt.Errorf("%s produced no output: %w", VectorExportModule, err)
	}

	archive := filepath.Join(ws.ExportDir, VectorFileName(entry.Name, format))
	if err := x.compress(job, exportedPath, archive); err != nil {
		return "", err
	}
	if err := os.RemoveAll(exportedPath); err != nil {
		x.logger.Warn("Failed to remove raw export", "path", exportedPath, "error", err)
	}
	return archive, nil
}

// compress zips src (file or directory) into archive, accounted as one step
func (x *Exporter) compress(job *models.Job, src, archive string) error {
	job.AddSteps(1)
	x.progress(job)

	z := archiver.NewZip()
	z.OverwriteExisting = true
	if err := z.Archive([]string{src}, archive); err != nil {
		return fmt.Errorf("failed to compress %s: %w", filepath.Base(src), err)
	}

	job.CompleteStep()
	job.AddMessage(fmt.Sprintf("Step %d/%d: compressed %s", job.Progress.Step, job.Progress.NumOfSteps, filepath.Base(archive)))
	x.progress(job)
	return nil
}
