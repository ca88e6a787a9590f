package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
	"github.com/trobanga/geochain/internal/storage"
)

// Dependencies are the collaborators of a Controller
type Dependencies struct {
	Locks           *services.LockManager
	Terminations    *services.Terminations
	Workspaces      *services.WorkspaceManager
	Runner          services.Runner
	Storage         storage.Factory
	Status          services.StatusStore // Optional
	Logger          *lib.Logger
	UseRasterRegion bool
	LeaseInterval   time.Duration // Workspace lease refresh; zero means services.DefaultLeaseInterval
}

// Request is one job submission
type Request struct {
	UserID     string
	ResourceID string // Generated when empty
	Location   string
	Mapset     string // Persistent target; empty for pure ephemeral processing
	Chain      *models.ProcessChain
}

// Controller drives jobs through accepted -> running -> finished|error|terminated
type Controller struct {
	deps Dependencies

	mu        sync.RWMutex
	observers []ProgressFunc
}

// NewController checks the dependencies and creates a controller
func NewController(deps Dependencies) (*Controller, error) {
	switch {
	case deps.Locks == nil:
		return nil, fmt.Errorf("controller requires a lock manager")
	case deps.Terminations == nil:
		return nil, fmt.Errorf("controller requires a termination registry")
	case deps.Workspaces == nil:
		return nil, fmt.Errorf("controller requires a workspace manager")
	case deps.Runner == nil:
		return nil, fmt.Errorf("controller requires a runner")
	case deps.Storage == nil:
		return nil, fmt.Errorf("controller requires a storage factory")
	}
	if deps.Logger == nil {
		deps.Logger = lib.DiscardLogger
	}
	return &Controller{deps: deps}, nil
}

// OnProgress registers an observer called with a copy of the job on every change
func (c *Controller) OnProgress(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// publish hands a snapshot of the job to the status store and observers.
// Publishing failures are logged; they never change the outcome of a job.
func (c *Controller) publish(ctx context.Context, job *models.Job) {
	snapshot := job.Clone()

	if c.deps.Status != nil {
		if err := c.deps.Status.Publish(ctx, snapshot); err != nil {
			c.deps.Logger.Warn("Failed to publish job status", "job_id", job.ResourceID, "error", err)
		}
	}

	c.mu.RLock()
	observers := append([]ProgressFunc{}, c.observers...)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}

// Submit validates the request and takes the workspace lock.
// On success the job is running and the caller must hand it to Run.
// A request without a usable identity is refused before any record exists.
// Any other rejected job is published in the error state and returned with the error.
func (c *Controller) Submit(ctx context.Context, req Request) (*models.Job, error) {
	if req.ResourceID == "" {
		req.ResourceID = models.NewResourceID()
	}
	if err := validateIdentity(req); err != nil {
		c.deps.Logger.Warn("Job refused", "job_id", req.ResourceID, "error", err)
		return nil, err
	}

	job := models.NewJob(req.UserID, req.ResourceID, req.Location, req.Mapset, req.Chain)
	logger := c.jobLogger(job)
	lib.LogJobAccepted(c.deps.Logger, job.ResourceID, job.UserID, job.Location, job.Mapset)
	c.publish(ctx, job)

	reject := func(err error) (*models.Job, error) {
		job.SetError(err.Error(), "")
		if tErr := job.Transition(models.JobStatusError); tErr != nil {
			logger.Error("Invalid transition on rejection", "error", tErr)
		}
		logger.Warn("Job rejected", "error", err)
		c.publish(ctx, job)
		return job, err
	}

	if err := lib.ValidateChainForTarget(req.Chain, req.Location, req.Mapset); err != nil {
		return reject(err)
	}

	if req.Mapset != "" {
		if err := c.deps.Locks.Acquire(ctx, job.Workspace(), job.ResourceID); err != nil {
			return reject(err)
		}
		logger.Info("Workspace lock acquired")
	}

	if err := job.Transition(models.JobStatusRunning); err != nil {
		c.releaseLock(context.WithoutCancel(ctx), job)
		return reject(err)
	}
	job.AddMessage("Job accepted for processing")
	c.publish(ctx, job)

	return job, nil
}

// validateIdentity checks the fields that key the job record and its storage
func validateIdentity(req Request) error {
	checks := []struct{ kind, name string }{
		{"resource", req.ResourceID},
		{"user", req.UserID},
		{"location", req.Location},
	}
	if req.Mapset != "" {
		checks = append(checks, struct{ kind, name string }{"mapset", req.Mapset})
	}
	for _, check := range checks {
		if err := models.ValidateName(check.kind, check.name); err != nil {
			return lib.WrapError(lib.CategoryValidation, "Invalid job identity", err,
				"Use letters, digits, '_', '-' and '.' only")
		}
	}
	return nil
}

// Run processes a running job to its terminal state. Cleanup always runs:
// the workspace is destroyed, the lock released and, unless the job finished,
// every stored resource purged. The returned error is the cause of a
// non-finished outcome.
func (c *Controller) Run(ctx context.Context, job *models.Job) (err error) {
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("job %s is %s, not running", job.ResourceID, job.Status)
	}

	start := time.Now()
	logger := c.jobLogger(job)
	probe := c.deps.Terminations.Probe(job.UserID, job.ResourceID)
	progress := func(j *models.Job) { c.publish(ctx, j) }

	var (
		ws        *services.Workspace
		backend   storage.Backend
		stopLease func()
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "panic", r)
			err = lib.WrapError(lib.CategoryModuleExecution, "Internal error while processing job", fmt.Errorf("%v", r))
		}
		if stopLease != nil {
			stopLease()
		}
		c.finish(context.WithoutCancel(ctx), job, ws, backend, err, start)
	}()

	backend, err = c.deps.Storage(ctx, job.UserID, job.ResourceID)
	if err != nil {
		return lib.ErrStorageUnreachable("configured", "", err)
	}
	if err := backend.Setup(ctx); err != nil {
		return err
	}

	ws, err = c.deps.Workspaces.Create(job.Location, job.Mapset, job.Chain.ReferencedMapsets())
	if err != nil {
		return err
	}
	stopLease = c.deps.Workspaces.KeepAlive(ws, c.deps.LeaseInterval)
	job.AddMessage("Ephemeral workspace created")
	c.publish(ctx, job)

	executor := NewExecutor(c.deps.Runner, logger, progress)
	result, err := executor.Run(ctx, job, job.Chain, ws, probe)
	if err != nil {
		return err
	}

	exporter := NewExporter(c.deps.Runner, logger, progress, c.deps.UseRasterRegion)
	if err := exporter.ExportAll(ctx, job, result.Exports, ws, backend, probe); err != nil {
		return err
	}
	if want := job.Chain.ExportableCount(); len(job.Resources) != want {
		return lib.ErrExport("chain", fmt.Errorf("stored %d resources, expected %d", len(job.Resources), want))
	}

	if job.Mapset != "" {
		layers, err := c.deps.Workspaces.Layers(ws)
		if err != nil {
			return lib.WrapError(lib.CategoryFileSystem, "Cannot list ephemeral layers", err)
		}
		if err := c.deps.Workspaces.MergeBack(ws, job.Mapset); err != nil {
			return err
		}
		job.AddMessage(fmt.Sprintf("Merged %d raster and %d vector layers into mapset <%s>",
			len(layers[models.ElementRaster]), len(layers[models.ElementVector]), job.Mapset))
	}

	return nil
}

// Execute submits and runs a job
func (c *Controller) Execute(ctx context.Context, req Request) (*models.Job, error) {
	job, err := c.Submit(ctx, req)
	if err != nil {
		return job, err
	}
	return job, c.Run(ctx, job)
}

// Terminate records a termination request; the running job observes it at
// the next step or export boundary
func (c *Controller) Terminate(ctx context.Context, userID, resourceID string) error {
	return c.deps.Terminations.Request(ctx, userID, resourceID)
}

func (c *Controller) finish(ctx context.Context, job *models.Job, ws *services.Workspace, backend storage.Backend, runErr error, start time.Time) {
	logger := c.jobLogger(job)

	if err := c.deps.Workspaces.Destroy(ws); err != nil {
		logger.Error("Failed to destroy ephemeral workspace", "error", err)
	}

	c.releaseLock(ctx, job)

	status := TerminalStatus(runErr)
	if status != models.JobStatusFinished {
		if backend != nil {
			stored := len(backend.Stored())
			if err := backend.RemoveAll(ctx); err != nil {
				logger.Error("Failed to purge stored resources", "stored", stored, "error", err)
			} else if stored > 0 {
				logger.Info("Purged stored resources", "count", stored)
			}
		}
		job.ClearResources()
		job.SetError(runErr.Error(), moduleOutput(runErr))
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close storage backend", "error", err)
		}
	}

	if err := job.Transition(status); err != nil {
		logger.Error("Invalid terminal transition", "error", err)
	}

	lib.LogJobFinished(logger, job.ResourceID, string(job.Status), len(job.Resources), time.Since(start))
	c.publish(ctx, job)
}

func (c *Controller) releaseLock(ctx context.Context, job *models.Job) {
	if job.Mapset == "" {
		return
	}
	if err := c.deps.Locks.Release(ctx, job.Workspace()); err != nil {
		c.jobLogger(job).Error("Failed to release workspace lock", "error", err)
	}
}

func (c *Controller) jobLogger(job *models.Job) *lib.Logger {
	return c.deps.Logger.With(
		"job_id", job.ResourceID,
		"user_id", job.UserID,
		"location", job.Location,
		"mapset", job.Mapset,
	)
}

// TerminalStatus maps the outcome of Run to the job's terminal status
func TerminalStatus(err error) models.JobStatus {
	switch {
	case err == nil:
		return models.JobStatusFinished
	case lib.IsCategory(err, lib.CategoryTerminated):
		return models.JobStatusTerminated
	default:
		return models.JobStatusError
	}
}

// moduleOutput returns the captured output of the failing module invocation, if any
func moduleOutput(err error) string {
	for err != nil {
		var geoErr *lib.GeoError
		if !errors.As(err, &geoErr) {
			return ""
		}
		if geoErr.Category == lib.CategoryModuleExecution {
			return geoErr.Output
		}
		err = geoErr.Cause
	}
	return ""
}
