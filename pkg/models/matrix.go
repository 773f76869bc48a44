package models

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Matrix describes the parameter grid a job is expanded over: one job run
// per combination of dimension values, plus explicit include entries, minus
// combinations matched by an exclude entry.
type Matrix struct {
	Dimensions map[string][]any `json:"dimensions"`
	Include    []map[string]any `json:"include,omitempty"`
	Exclude    []map[string]any `json:"exclude,omitempty"`
}

var (
	// ErrEmptyMatrix is returned when a matrix declares neither dimensions
	// nor include entries.
	ErrEmptyMatrix = errors.New("matrix requires at least one dimension or include entry")

	errMatrixShape = errors.New("matrix must be a mapping of dimension name to value list")
)

// UnmarshalYAML decodes the pipeline-file form of a matrix, where dimensions
// sit at the same level as the reserved include/exclude keys:
//
//	matrix:
//	  os: [linux, macos]
//	  interpreter: ["3.11", "3.12"]
//	  exclude:
//	    - os: macos
//	      interpreter: "3.11"
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return errMatrixShape
	}

	m.Dimensions = make(map[string][]any)

	for key, val := range raw {
		switch key {
		case "include":
			entries, err := decodeCombinationList(key, val)
			if err != nil {
				return err
			}

			m.Include = entries
		case "exclude":
			entries, err := decodeCombinationList(key, val)
			if err != nil {
				return err
			}

			m.Exclude = entries
		default:
			values, ok := val.([]any)
			if !ok {
				return fmt.Errorf("%w: dimension %q is not a list", errMatrixShape, key)
			}

			m.Dimensions[key] = values
		}
	}

	return nil
}

func decodeCombinationList(key string, val any) ([]map[string]any, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("matrix %q must be a list of mappings", key)
	}

	entries := make([]map[string]any, 0, len(list))

	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("matrix %s[%d] must be a mapping", key, i)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Validate checks basic matrix shape rules.
func (m *Matrix) Validate() error {
	if len(m.Dimensions) == 0 && len(m.Include) == 0 {
		return ErrEmptyMatrix
	}

	for name, values := range m.Dimensions {
		if len(values) == 0 {
			return fmt.Errorf("dimension %q has no values", name)
		}
	}

	return nil
}
