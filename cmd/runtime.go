package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/trobanga/geochain/internal/kvstore"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/pipeline"
	"github.com/trobanga/geochain/internal/services"
	"github.com/trobanga/geochain/internal/storage"
)

// runtime holds the components built from the configuration
type runtime struct {
	config       *models.ProjectConfig
	logger       *lib.Logger
	kv           kvstore.Store
	status       services.StatusStore
	locks        *services.LockManager
	terminations *services.Terminations
}

// loadConfig loads the configuration and creates the logger
func loadConfig() (*models.ProjectConfig, *lib.Logger, error) {
	config, err := services.LoadConfigWith(cfgViper, cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := lib.NewLoggerWithWriter(lib.ParseLogLevel(config.Log.Level), config.Log.Format, os.Stderr)
	if verbose {
		logger.SetLevel(lib.LogLevelDebug)
	}

	if used := cfgViper.ConfigFileUsed(); used != "" {
		logger.Debug("Configuration loaded", "file", used)
	}
	return config, logger, nil
}

// openRuntime connects the shared key/value store and the status store
func openRuntime(ctx context.Context) (*runtime, error) {
	config, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	kv, err := kvstore.Open(ctx, config.KV, logger)
	if err != nil {
		return nil, lib.ErrInvalidConfig(fmt.Sprintf("cannot open %s key/value store", config.KV.Backend), err)
	}

	status, err := services.OpenStatusStore(config.Status)
	if err != nil {
		_ = kv.Close()
		return nil, lib.ErrInvalidConfig(fmt.Sprintf("cannot open %s status store", config.Status.Backend), err)
	}

	return &runtime{
		config:       config,
		logger:       logger,
		kv:           kv,
		status:       status,
		locks:        services.NewLockManager(kv, config.IsProtected, logger),
		terminations: services.NewTerminations(kv),
	}, nil
}

// controller wires a job controller onto the runtime
func (r *runtime) controller() (*pipeline.Controller, error) {
	factory, err := storage.NewFactory(r.config.Storage)
	if err != nil {
		return nil, lib.ErrInvalidConfig("storage", err)
	}

	return pipeline.NewController(pipeline.Dependencies{
		Locks:           r.locks,
		Terminations:    r.terminations,
		Workspaces:      services.NewWorkspaceManager(r.config.GISDBase, r.config.TmpDir, r.config.IsProtected, r.logger),
		Runner:          services.NewExecRunner(r.config.Grass.ModulePath, r.logger),
		Storage:         factory,
		Status:          r.status,
		Logger:          r.logger,
		UseRasterRegion: r.config.Export.UseRasterRegion,
	})
}

func (r *runtime) Close() {
	if err := r.status.Close(); err != nil {
		r.logger.Warn("Failed to close status store", "error", err)
	}
	if err := r.kv.Close(); err != nil {
		r.logger.Warn("Failed to close key/value store", "error", err)
	}
}
