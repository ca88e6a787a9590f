package lib

import (
	"fmt"

	"github.com/trobanga/geochain/internal/models"
)

// ValidateChainForTarget checks a parsed chain against the job it is submitted with.
// Outputs must be written into the ephemeral mapset, so qualified output names are
// rejected, and two exported outputs may not share a file name.
func ValidateChainForTarget(chain *models.ProcessChain, location string, mapset string) error {
	if chain == nil {
		return ErrInvalidChain(fmt.Errorf("no process chain given"))
	}
	if err := chain.Validate(); err != nil {
		return ErrInvalidChain(err)
	}
	if err := models.ValidateName("location", location); err != nil {
		return ErrInvalidChain(err)
	}
	if mapset != "" {
		if err := models.ValidateName("mapset", mapset); err != nil {
			return ErrInvalidChain(err)
		}
	}

	for _, m := range chain.ReferencedMapsets() {
		if err := models.ValidateName("mapset", m); err != nil {
			return ErrInvalidChain(err)
		}
	}

	exported := map[string]string{}
	for _, step := range chain.Steps {
		for _, out := range step.Outputs {
			if _, qualifier := models.SplitQualifiedName(out.Name); qualifier != "" {
				return ErrInvalidChain(fmt.Errorf("step %s: output <%s> must not name a mapset", step.ID, out.Name))
			}
			if !out.IsExported() {
				continue
			}
			if prev, dup := exported[out.Name]; dup {
				return ErrInvalidChain(fmt.Errorf("output <%s> is exported by step %s and step %s", out.Name, prev, step.ID))
			}
			exported[out.Name] = step.ID
		}
	}

	return nil
}
