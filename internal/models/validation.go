package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ResourceIDPrefix prefixes every generated job resource id
const ResourceIDPrefix = "resource_id-"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// NewResourceID generates a unique job resource id
func NewResourceID() string {
	return ResourceIDPrefix + uuid.New().String()
}

// ValidateName checks a location, mapset, user or layer name.
// Names become path components, so separators and ".." are rejected.
func ValidateName(kind string, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// Validate checks if a Job has valid fields
func (j *Job) Validate() error {
	// Resource ids name status files, so they follow the path component rule
	if err := ValidateName("resource", j.ResourceID); err != nil {
		return err
	}
	if err := ValidateName("user", j.UserID); err != nil {
		return err
	}
	if err := ValidateName("location", j.Location); err != nil {
		return err
	}
	if j.Mapset != "" {
		if err := ValidateName("mapset", j.Mapset); err != nil {
			return err
		}
	}

	if !IsValidJobStatus(j.Status) {
		return fmt.Errorf("invalid status: %s", j.Status)
	}

	if j.Progress.Step < 0 || j.Progress.NumOfSteps < 0 {
		return errors.New("step counters cannot be negative")
	}
	if j.Progress.Step > j.Progress.NumOfSteps {
		return fmt.Errorf("completed steps (%d) exceed total steps (%d)", j.Progress.Step, j.Progress.NumOfSteps)
	}

	return nil
}

// Validate checks the chain for structural errors
func (c *ProcessChain) Validate() error {
	if len(c.Steps) == 0 {
		return errors.New("process chain has no steps")
	}
	for i := range c.Steps {
		if err := c.Steps[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if a Step has valid fields
func (s *Step) Validate() error {
	if s.Module == "" {
		return fmt.Errorf("step %s: module is required", s.ID)
	}
	// Module names are resolved by the runner's search path; paths are not accepted
	if !namePattern.MatchString(s.Module) {
		return fmt.Errorf("step %s: invalid module name %q", s.ID, s.Module)
	}

	for _, p := range append(append([]Param{}, s.Inputs...), s.Region...) {
		if p.Key == "" {
			return fmt.Errorf("step %s: empty parameter name", s.ID)
		}
	}

	for _, out := range s.Outputs {
		if out.Name == "" {
			return fmt.Errorf("step %s: output %s has no name", s.ID, out.Param)
		}
		if out.Export != nil {
			if err := out.Export.Validate(); err != nil {
				return fmt.Errorf("step %s output %s: %w", s.ID, out.Name, err)
			}
		}
	}

	return nil
}
