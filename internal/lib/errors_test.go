package lib_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

func TestGeoError_Error(t *testing.T) {
	err := lib.ErrStorageUnreachable("s3", "s3://results/alice", errors.New("access denied"))

	result := err.Error()
	assert.Contains(t, result, "[STORAGE_UNREACHABLE]")
	assert.Contains(t, result, "s3://results/alice")
	assert.Contains(t, result, "access denied")
}

func TestGeoError_ModuleExecution(t *testing.T) {
	err := lib.ErrModuleExecution("r.slope.aspect", 1, "ERROR: Raster map <nope> not found", nil)

	assert.Contains(t, err.Error(), "Module <r.slope.aspect> failed")
	assert.Contains(t, err.Error(), "(exit status 1)")
	assert.Contains(t, err.UserMessage(), "Raster map <nope> not found")
}

func TestGeoError_UserMessage(t *testing.T) {
	ws := models.WorkspaceID{Location: "nc_spm_08", Mapset: "user1"}
	err := lib.ErrLockConflict(ws, "resource_id-1")

	msg := err.UserMessage()
	assert.Contains(t, msg, "Error: Mapset <user1> in location <nc_spm_08> is locked by job resource_id-1")
	assert.Contains(t, msg, "How to fix:")
	assert.Contains(t, msg, "1. Wait for the running job")
	assert.Contains(t, msg, "geochain lock status nc_spm_08 user1")
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, lib.CategoryTerminated, lib.CategoryOf(lib.ErrTerminated("Export")))
	assert.Equal(t, lib.CategoryExport, lib.CategoryOf(lib.ErrExport("x", lib.ErrTerminated("Export"))))
	assert.Equal(t, lib.ErrorCategory(""), lib.CategoryOf(errors.New("plain")))

	wrapped := fmt.Errorf("context: %w", lib.ErrProtectedWorkspace(models.WorkspaceID{Location: "l", Mapset: "PERMANENT"}))
	assert.Equal(t, lib.CategoryProtectedWorkspace, lib.CategoryOf(wrapped))
}

func TestIsCategory_WalksCauses(t *testing.T) {
	moduleErr := lib.ErrModuleExecution("r.out.gdal", 1, "no such map", nil)
	exportErr := lib.ErrExport("missing", moduleErr)

	assert.True(t, lib.IsCategory(exportErr, lib.CategoryExport))
	assert.True(t, lib.IsCategory(exportErr, lib.CategoryModuleExecution))
	assert.False(t, lib.IsCategory(exportErr, lib.CategoryTerminated))
	assert.False(t, lib.IsCategory(nil, lib.CategoryExport))

	var geoErr *lib.GeoError
	assert.True(t, errors.As(exportErr, &geoErr))
	assert.Equal(t, moduleErr, errors.Unwrap(exportErr))
}
