package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/trobanga/geochain/internal/models"
)

// GetJobSummary returns a human-readable summary of the job
func GetJobSummary(job *models.Job) string {
	end := time.Now()
	if job.Status.IsTerminal() {
		end = job.UpdatedAt
	}
	duration := end.Sub(job.CreatedAt)

	summary := fmt.Sprintf("Job %s\n", job.ResourceID)
	summary += fmt.Sprintf("User: %s\n", job.UserID)
	summary += fmt.Sprintf("Target: %s\n", describeTarget(job))
	summary += fmt.Sprintf("Status: %s\n", job.Status)
	summary += fmt.Sprintf("Steps: %d/%d\n", job.Progress.Step, job.Progress.NumOfSteps)
	summary += fmt.Sprintf("Duration: %v\n", duration.Round(time.Second))

	if len(job.Resources) > 0 {
		summary += "Resources:\n"
		for _, r := range job.Resources {
			summary += fmt.Sprintf("  %s\n", r)
		}
	}

	if job.ErrorMessage != "" {
		summary += fmt.Sprintf("Error: %s\n", job.ErrorMessage)
	}
	if job.Traceback != "" {
		summary += "Module output:\n"
		for _, line := range strings.Split(strings.TrimRight(job.Traceback, "\n"), "\n") {
			summary += fmt.Sprintf("  %s\n", line)
		}
	}

	return summary
}

func describeTarget(job *models.Job) string {
	if job.Mapset == "" {
		return job.Location + " (ephemeral)"
	}
	return job.Workspace().String()
}
