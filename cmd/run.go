package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/pipeline"
	"github.com/trobanga/geochain/internal/ui"
	"github.com/trobanga/geochain/internal/worker"
)

var (
	runLocation string
	runMapset   string
	runUser     string
	noProgress  bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <chain.json>...",
	Short: "Run process chains",
	Long: `Run one or more process chains, each as its own job.

Every chain runs in a private ephemeral mapset of the given location. With
--mapset the target mapset is locked for the duration of the job and the new
layers are merged into it when the job finishes. Without --mapset the job only
exports its results.

Chains are JSON: either an array of steps or the object form {"1": {...}, ...}.
Jobs run on the worker pool (worker.pool_size). Press Ctrl-C once to request
termination of all jobs; they stop at the next step boundary.

Examples:
  # Slope and aspect into mapset user1
  geochain run slope.json --location nc_spm_08 --mapset user1

  # Export-only processing
  geochain run export.json --location nc_spm_08

  # Several chains, no progress bar
  geochain run a.json b.json --location nc_spm_08 --no-progress`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runLocation, "location", "l", "", "location the chains run in (required)")
	runCmd.Flags().StringVarP(&runMapset, "mapset", "m", "", "persistent target mapset; empty for ephemeral processing only")
	runCmd.Flags().StringVarP(&runUser, "user", "u", defaultUser(), "user the jobs are submitted as")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	_ = runCmd.MarkFlagRequired("location")
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "geochain"
}

func runRun(cmd *cobra.Command, args []string) error {
	chains := make([]*models.ProcessChain, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return lib.WrapError(lib.CategoryFileSystem, fmt.Sprintf("Cannot read %s", path), err)
		}
		chain, err := models.ParseProcessChain(data)
		if err != nil {
			return lib.ErrInvalidChain(fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
		chains = append(chains, chain)
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	controller, err := rt.controller()
	if err != nil {
		return err
	}

	showProgress := !noProgress && len(chains) == 1
	var bar *ui.ProgressBar
	if showProgress {
		bar = ui.NewProgressBar(1, "Processing")
		controller.OnProgress(func(job *models.Job) {
			_ = bar.Update(job)
		})
	}

	// Submit synchronously so lock conflicts are reported before any work starts
	var jobs []*models.Job
	var rejected int
	for i, chain := range chains {
		job, err := controller.Submit(ctx, pipeline.Request{
			UserID:   runUser,
			Location: runLocation,
			Mapset:   runMapset,
			Chain:    chain,
		})
		if err != nil {
			rejected++
			fmt.Fprintf(os.Stderr, "%s rejected:\n", args[i])
			printError(err)
			continue
		}
		fmt.Printf("%s -> %s\n", args[i], job.ResourceID)
		jobs = append(jobs, job)
	}

	if len(jobs) > 0 {
		stopSignals := terminateOnSignal(rt, jobs)
		defer stopSignals()

		queue := len(jobs)
		if rt.config.Worker.QueueSize > queue {
			queue = rt.config.Worker.QueueSize
		}
		pool := worker.NewPool(rt.config.Worker.PoolSize, queue, controller.Run, rt.logger)
		pool.Start()
		for _, job := range jobs {
			if err := pool.Submit(worker.Task{Context: ctx, Job: job}); err != nil {
				return err
			}
		}
		rt.logger.Debug("Jobs queued", "jobs", len(jobs), "waiting", pool.QueueLength())
		pool.Stop()

		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}

		for result := range pool.Results() {
			fmt.Println()
			fmt.Print(pipeline.GetJobSummary(result.Job))
		}
	}

	failed := rejected
	for _, job := range jobs {
		if job.Status != models.JobStatusFinished {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not finish", failed, len(chains))
	}
	return nil
}

// terminateOnSignal requests termination of jobs on SIGINT/SIGTERM.
// Termination is observed by the jobs between steps.
func terminateOnSignal(rt *runtime, jobs []*models.Job) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(os.Stderr, "\nTermination requested; waiting for running steps to finish")
			for _, job := range jobs {
				if err := rt.terminations.Request(context.Background(), job.UserID, job.ResourceID); err != nil {
					rt.logger.Error("Failed to request termination", "job_id", job.ResourceID, "error", err)
				}
			}
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
