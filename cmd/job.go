package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/pipeline"
)

// jobCmd represents the job command group
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and control jobs",
	Long: `Inspect and control geoprocessing jobs.

Available subcommands:
  status    - Show the status record of a job
  list      - List all jobs
  terminate - Request termination of a running job`,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <resource-id>",
	Short: "Show the status of a job",
	Long: `Display the published status record of a job: status, step counts,
stored resources and, for failed jobs, the error and module output.

Example:
  geochain job status resource_id-6c1f...`,
	Args: cobra.ExactArgs(1),
	RunE: runJobStatus,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Long: `List all jobs of the status store, newest first.

Example:
  geochain job list`,
	Args: cobra.NoArgs,
	RunE: runJobList,
}

var jobTerminateCmd = &cobra.Command{
	Use:   "terminate <user> <resource-id>",
	Short: "Request termination of a job",
	Long: `Set the termination flag of a job. The job stops before its next step
or export entry; a module that is already running is not interrupted.

Example:
  geochain job terminate alice resource_id-6c1f...`,
	Args: cobra.ExactArgs(2),
	RunE: runJobTerminate,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobTerminateCmd)
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.status.Load(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Print(pipeline.GetJobSummary(job))
	if len(job.Messages) > 0 {
		fmt.Println("Messages:")
		for _, m := range job.Messages {
			fmt.Printf("  %s\n", m)
		}
	}
	return nil
}

func runJobList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := rt.status.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	// Print table header
	fmt.Printf("%-48s %-12s %-12s %-24s %-8s %-9s %s\n", "RESOURCE ID", "STATUS", "USER", "TARGET", "STEPS", "RESOURCES", "AGE")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	// Newest first
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		target := j.Location
		if j.Mapset != "" {
			target = j.Workspace().String()
		}
		fmt.Printf("%-48s %s %-10s %-12s %-24s %-8s %-9d %s\n",
			j.ResourceID,
			getJobStatusSymbol(j.Status),
			j.Status,
			j.UserID,
			target,
			fmt.Sprintf("%d/%d", j.Progress.Step, j.Progress.NumOfSteps),
			len(j.Resources),
			formatDuration(time.Since(j.CreatedAt)),
		)
	}

	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runJobTerminate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	user, resourceID := args[0], args[1]
	if job, err := rt.status.Load(ctx, resourceID); err == nil && job.Status.IsTerminal() {
		fmt.Printf("Job %s is already %s\n", resourceID, job.Status)
		return nil
	}

	if err := rt.terminations.Request(ctx, user, resourceID); err != nil {
		return err
	}
	fmt.Printf("Termination of %s requested\n", resourceID)
	return nil
}

func getJobStatusSymbol(status models.JobStatus) string {
	switch status {
	case models.JobStatusFinished:
		return "✓"
	case models.JobStatusRunning:
		return "→"
	case models.JobStatusError:
		return "✗"
	case models.JobStatusTerminated:
		return "■"
	case models.JobStatusAccepted:
		return "○"
	default:
		return " "
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
