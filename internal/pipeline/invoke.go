package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
)

// ProgressFunc receives the job after every change of its step accounting.
// The job must not be retained; use Clone.
type ProgressFunc func(job *models.Job)

// invoker runs one module invocation as one accounted step of a job
type invoker struct {
	runner     services.Runner
	logger     *lib.Logger
	onProgress ProgressFunc
}

func (iv *invoker) progress(job *models.Job) {
	if iv.onProgress != nil {
		iv.onProgress(job)
	}
}

// invoke increments the step total, runs cmd in the workspace and on success
// increments the completed count. A non-zero exit status is returned as
// ErrModuleExecution even if the runner reported no error.
func (iv *invoker) invoke(ctx context.Context, job *models.Job, ws *services.Workspace, cmd services.Command) (services.Result, error) {
	job.AddSteps(1)
	step := job.Progress.NumOfSteps
	iv.progress(job)

	if ws != nil {
		cmd.Env = append(ws.Env(), cmd.Env...)
	}

	lib.LogStepStart(iv.logger, cmd.Name, job.ResourceID, step)
	start := time.Now()

	result, err := iv.runner.Run(ctx, cmd)
	if err == nil && result.ExitCode != 0 {
		err = lib.ErrModuleExecution(cmd.Name, result.ExitCode, result.Output(), nil)
	}
	if err != nil {
		lib.LogStepFailed(iv.logger, cmd.Name, job.ResourceID, err)
		return result, err
	}

	job.CompleteStep()
	job.AddMessage(fmt.Sprintf("Step %d/%d: %s", job.Progress.Step, job.Progress.NumOfSteps, cmd.String()))
	lib.LogStepComplete(iv.logger, cmd.Name, job.ResourceID, step, time.Since(start))
	iv.progress(job)

	return result, nil
}

// checkCancel polls the probe; a positive answer becomes ErrTerminated
func checkCancel(ctx context.Context, probe services.CancelProbe, stage string) error {
	if probe == nil {
		return nil
	}
	requested, err := probe(ctx)
	if err != nil {
		return fmt.Errorf("failed to poll termination flag: %w", err)
	}
	if requested {
		return lib.ErrTerminated(stage)
	}
	return nil
}
