package models

import (
	"fmt"
	"time"
)

// NewJob creates a job in the accepted state
func NewJob(userID, resourceID, location, mapset string, chain *ProcessChain) *Job {
	now := time.Now()
	return &Job{
		UserID:     userID,
		ResourceID: resourceID,
		Location:   location,
		Mapset:     mapset,
		Status:     JobStatusAccepted,
		Messages:   []string{},
		Resources:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Chain:      chain,
	}
}

// Transition moves the job to the next status
// Returns an error if the transition is not allowed by the state machine
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid job status transition %s -> %s", j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// AddMessage appends a progress message
func (j *Job) AddMessage(message string) {
	j.Messages = append(j.Messages, message)
	j.UpdatedAt = time.Now()
}

// AddSteps increases the total step count before the steps run
func (j *Job) AddSteps(n int) {
	j.Progress.NumOfSteps += n
	j.UpdatedAt = time.Now()
}

// CompleteStep increments the completed step count
func (j *Job) CompleteStep() {
	j.Progress.Step++
	j.UpdatedAt = time.Now()
}

// AddResource records a locator produced by the export pipeline
func (j *Job) AddResource(locator string) {
	j.Resources = append(j.Resources, locator)
	j.UpdatedAt = time.Now()
}

// ClearResources drops all locators, used when stored resources are purged
func (j *Job) ClearResources() {
	j.Resources = []string{}
	j.UpdatedAt = time.Now()
}

// SetError records the error detail shown to the user
func (j *Job) SetError(message string, traceback string) {
	j.ErrorMessage = message
	j.Traceback = traceback
	j.UpdatedAt = time.Now()
}

// Clone returns a deep copy suitable for publishing
func (j *Job) Clone() *Job {
	clone := *j
	clone.Messages = append([]string{}, j.Messages...)
	clone.Resources = append([]string{}, j.Resources...)
	return &clone
}
