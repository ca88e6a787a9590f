package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Step is one module invocation of a process chain
type Step struct {
	ID         string   `json:"id"`
	Module     string   `json:"module"`
	Inputs     []Param  `json:"inputs,omitempty"`
	Outputs    []Output `json:"outputs,omitempty"`
	Flags      string   `json:"flags,omitempty"`
	Overwrite  bool     `json:"overwrite,omitempty"`
	Verbose    bool     `json:"verbose,omitempty"`
	Superquiet bool     `json:"superquiet,omitempty"`
	Region     []Param  `json:"region,omitempty"` // Parameters of a g.region pre-step
}

// Param is a module parameter in declaration order
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Output is a named result of a step, optionally marked for export
type Output struct {
	Param  string            `json:"param"`
	Name   string            `json:"name"`
	Export *ExportDescriptor `json:"export,omitempty"`
}

// IsExported reports whether the output carries an export descriptor
func (o Output) IsExported() bool {
	return o.Export != nil
}

// rawStep is the wire form of a step
type rawStep struct {
	Module     string          `json:"module"`
	Inputs     json.RawMessage `json:"inputs"`
	Outputs    json.RawMessage `json:"outputs"`
	Flags      string          `json:"flags"`
	Overwrite  bool            `json:"overwrite"`
	Verbose    bool            `json:"verbose"`
	Superquiet bool            `json:"superquiet"`
	Region     json.RawMessage `json:"region"`
}

// rawOutput accepts both legacy identifier keys; they are folded into Output.Name
type rawOutput struct {
	Name   *string           `json:"name"`
	Value  *string           `json:"value"`
	Export *ExportDescriptor `json:"export"`
}

func parseStep(id string, data json.RawMessage) (Step, error) {
	var raw rawStep
	if err := json.Unmarshal(data, &raw); err != nil {
		return Step{}, fmt.Errorf("step %s: %w", id, err)
	}

	step := Step{
		ID:         id,
		Module:     raw.Module,
		Flags:      raw.Flags,
		Overwrite:  raw.Overwrite,
		Verbose:    raw.Verbose,
		Superquiet: raw.Superquiet,
	}

	var err error
	if step.Inputs, err = parseParams(raw.Inputs); err != nil {
		return Step{}, fmt.Errorf("step %s inputs: %w", id, err)
	}
	if step.Region, err = parseParams(raw.Region); err != nil {
		return Step{}, fmt.Errorf("step %s region: %w", id, err)
	}

	err = decodeOrderedObject(raw.Outputs, func(key string, value json.RawMessage) error {
		var ro rawOutput
		if err := json.Unmarshal(value, &ro); err != nil {
			return fmt.Errorf("output %s: %w", key, err)
		}
		out := Output{Param: key, Export: ro.Export}
		if ro.Name != nil {
			out.Name = *ro.Name
		}
		if ro.Value != nil {
			out.Name = *ro.Value
		}
		if out.Name == "" {
			return fmt.Errorf("output %s: neither name nor value given", key)
		}
		if out.Export != nil && out.Export.Format == "" {
			out.Export.Format = DefaultFormat(out.Export.Type)
		}
		step.Outputs = append(step.Outputs, out)
		return nil
	})
	if err != nil {
		return Step{}, fmt.Errorf("step %s outputs: %w", id, err)
	}

	return step, nil
}

// parseParams decodes an object of scalar values keeping key order
func parseParams(data json.RawMessage) ([]Param, error) {
	var params []Param
	err := decodeOrderedObject(data, func(key string, value json.RawMessage) error {
		s, err := scalarString(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		params = append(params, Param{Key: key, Value: s})
		return nil
	})
	return params, err
}

// decodeOrderedObject walks a JSON object in document order.
// Empty input and null are treated as an empty object.
func decodeOrderedObject(data json.RawMessage, fn func(key string, value json.RawMessage) error) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected an object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	_, err = dec.Token()
	return err
}

func scalarString(value json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("value must be a string, number or boolean")
	default:
		if b, err := strconv.ParseBool(string(trimmed)); err == nil {
			return strconv.FormatBool(b), nil
		}
		return string(trimmed), nil
	}
}
