package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ProcessChain is the ordered list of steps submitted as one job
type ProcessChain struct {
	Steps []Step `json:"steps"`
}

// ParseProcessChain decodes a process chain.
// Two wire forms are accepted: a JSON array of steps, or the legacy object
// form {"1": {...}, "2": {...}} whose numeric keys define the order.
func ParseProcessChain(data []byte) (*ProcessChain, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("process chain is empty")
	}

	chain := &ProcessChain{}

	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("failed to parse process chain: %w", err)
		}
		for i, raw := range raws {
			step, err := parseStep(strconv.Itoa(i+1), raw)
			if err != nil {
				return nil, err
			}
			chain.Steps = append(chain.Steps, step)
		}

	case '{':
		type keyed struct {
			order int
			id    string
			raw   json.RawMessage
		}
		var entries []keyed
		err := decodeOrderedObject(trimmed, func(key string, value json.RawMessage) error {
			order, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("step key %q is not a number", key)
			}
			entries = append(entries, keyed{order: order, id: key, raw: value})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse process chain: %w", err)
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
		for _, e := range entries {
			step, err := parseStep(e.id, e.raw)
			if err != nil {
				return nil, err
			}
			chain.Steps = append(chain.Steps, step)
		}

	default:
		return nil, fmt.Errorf("process chain must be a JSON array or object")
	}

	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// ExportEntries returns the outputs carrying an export descriptor in declared order
func (c *ProcessChain) ExportEntries() []Output {
	var entries []Output
	for _, step := range c.Steps {
		for _, out := range step.Outputs {
			if out.IsExported() {
				entries = append(entries, out)
			}
		}
	}
	return entries
}

// ExportableCount counts export entries that produce a stored resource
func (c *ProcessChain) ExportableCount() int {
	count := 0
	for _, e := range c.ExportEntries() {
		if e.Export.Type != ResourceFile {
			count++
		}
	}
	return count
}

// ReferencedMapsets returns the mapsets named as name@mapset in inputs or region
// parameters, sorted and without duplicates
func (c *ProcessChain) ReferencedMapsets() []string {
	seen := map[string]bool{}
	collect := func(params []Param) {
		for _, p := range params {
			for _, item := range strings.Split(p.Value, ",") {
				if _, mapset := SplitQualifiedName(strings.TrimSpace(item)); mapset != "" {
					seen[mapset] = true
				}
			}
		}
	}
	for _, step := range c.Steps {
		collect(step.Inputs)
		collect(step.Region)
	}

	mapsets := make([]string, 0, len(seen))
	for m := range seen {
		mapsets = append(mapsets, m)
	}
	sort.Strings(mapsets)
	return mapsets
}
