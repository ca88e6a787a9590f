package models

import "time"

// Job is the status record of one process chain execution.
// It is mutated only by the job controller and the components it drives.
type Job struct {
	UserID       string    `json:"user_id"`
	ResourceID   string    `json:"resource_id"`
	Location     string    `json:"location"`
	Mapset       string    `json:"mapset,omitempty"` // Persistent target; empty for pure ephemeral processing
	Status       JobStatus `json:"status"`
	Messages     []string  `json:"messages"`
	Progress     Progress  `json:"progress"`
	Resources    []string  `json:"resources"` // Locators returned by the storage backend
	ErrorMessage string    `json:"error_message,omitempty"`
	Traceback    string    `json:"traceback,omitempty"` // Captured module output of the failing invocation
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Chain *ProcessChain `json:"-"`
}

// Progress holds the step accounting of a job
type Progress struct {
	Step       int `json:"step"`
	NumOfSteps int `json:"num_of_steps"`
}

// JobStatus defines the execution state of a job
type JobStatus string

const (
	JobStatusAccepted   JobStatus = "accepted"
	JobStatusRunning    JobStatus = "running"
	JobStatusFinished   JobStatus = "finished"
	JobStatusError      JobStatus = "error"
	JobStatusTerminated JobStatus = "terminated"
)

// IsValidJobStatus checks if the job status is recognized
func IsValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusAccepted, JobStatusRunning, JobStatusFinished, JobStatusError, JobStatusTerminated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusError || s == JobStatusTerminated
}

// CanTransitionTo checks if state transition is valid
// Valid transitions:
//
//	accepted -> running | error
//	running  -> finished | error | terminated
//
// Terminal states are absorbing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusAccepted:
		return next == JobStatusRunning || next == JobStatusError
	case JobStatusRunning:
		return next == JobStatusFinished || next == JobStatusError || next == JobStatusTerminated
	default:
		return false
	}
}

// Workspace returns the persistent target of the job
func (j *Job) Workspace() WorkspaceID {
	return WorkspaceID{Location: j.Location, Mapset: j.Mapset}
}
