package pipeline

import (
	"context"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
)

// RegionModule sets the computational region
const RegionModule = "g.region"

// ChainResult is what a successful chain run hands to the export pipeline
type ChainResult struct {
	Exports []models.Output // Outputs carrying an export descriptor, in declared order
}

// Executor runs the steps of a process chain in order, failing fast
type Executor struct {
	invoker
}

// NewExecutor creates an executor. onProgress may be nil.
func NewExecutor(runner services.Runner, logger *lib.Logger, onProgress ProgressFunc) *Executor {
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &Executor{invoker{runner: runner, logger: logger, onProgress: onProgress}}
}

// Run executes chain inside ws. The probe is polled before every step; a
// termination request stops the chain with ErrTerminated. The first failing
// invocation stops the chain with its error.
func (e *Executor) Run(ctx context.Context, job *models.Job, chain *models.ProcessChain, ws *services.Workspace, probe services.CancelProbe) (*ChainResult, error) {
	for _, step := range chain.Steps {
		if err := checkCancel(ctx, probe, "Process chain"); err != nil {
			return nil, err
		}

		if len(step.Region) > 0 {
			if _, err := e.invoke(ctx, job, ws, BuildRegionCommand(step.Region)); err != nil {
				return nil, err
			}
		}

		if _, err := e.invoke(ctx, job, ws, BuildModuleCommand(step)); err != nil {
			return nil, err
		}
	}

	return &ChainResult{Exports: chain.ExportEntries()}, nil
}

// BuildModuleCommand turns a step into its module invocation:
// inputs and outputs as key=value in declared order, then flags
func BuildModuleCommand(step models.Step) services.Command {
	args := make([]string, 0, len(step.Inputs)+len(step.Outputs)+4)
	for _, p := range step.Inputs {
		args = append(args, p.Key+"="+p.Value)
	}
	for _, o := range step.Outputs {
		args = append(args, o.Param+"="+o.Name)
	}
	if step.Flags != "" {
		args = append(args, "-"+step.Flags)
	}
	if step.Overwrite {
		args = append(args, "--overwrite")
	}
	if step.Verbose {
		args = append(args, "--verbose")
	}
	if step.Superquiet {
		args = append(args, "--quiet")
	}
	return services.Command{Name: step.Module, Args: args}
}

// BuildRegionCommand builds the region pre-step of a step
func BuildRegionCommand(region []models.Param) services.Command {
	args := make([]string, 0, len(region))
	for _, p := range region {
		args = append(args, p.Key+"="+p.Value)
	}
	return services.Command{Name: RegionModule, Args: args}
}
