// Package matrix expands a job's parameter grid into the concrete list of
// combinations to run. Expansion is fully deterministic and happens before
// any job starts: each cross-product combination appears exactly once, minus
// exclusions, plus explicit include entries.
package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dmawi/gridci/pkg/models"
)

// Combination is one concrete assignment of a value to every matrix
// dimension.
type Combination map[string]any

// Expand returns the ordered combination list for the given matrix. A nil
// matrix yields a single empty combination, so jobs without a matrix still
// run exactly once.
func Expand(m *models.Matrix) ([]Combination, error) {
	if m == nil {
		return []Combination{{}}, nil
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	combinations := crossProduct(m.Dimensions)
	combinations = applyExcludes(combinations, m.Exclude)

	for _, include := range m.Include {
		entry := Combination(include)
		if !containsCombination(combinations, entry) {
			combinations = append(combinations, entry)
		}
	}

	if len(combinations) == 0 {
		return nil, fmt.Errorf("matrix expansion produced no combinations")
	}

	return combinations, nil
}

// crossProduct enumerates the full dimension cross product in sorted
// dimension-name order so output is stable across runs.
func crossProduct(dimensions map[string][]any) []Combination {
	if len(dimensions) == 0 {
		return nil
	}

	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}

	sort.Strings(names)

	combinations := []Combination{{}}

	for _, name := range names {
		next := make([]Combination, 0, len(combinations)*len(dimensions[name]))

		for _, base := range combinations {
			for _, value := range dimensions[name] {
				combination := make(Combination, len(base)+1)
				for k, v := range base {
					combination[k] = v
				}

				combination[name] = value
				next = append(next, combination)
			}
		}

		combinations = next
	}

	return combinations
}

func applyExcludes(combinations []Combination, excludes []map[string]any) []Combination {
	if len(excludes) == 0 {
		return combinations
	}

	kept := make([]Combination, 0, len(combinations))

	for _, combination := range combinations {
		if !matchesAnyExclude(combination, excludes) {
			kept = append(kept, combination)
		}
	}

	return kept
}

// matchesAnyExclude reports whether some exclude entry is a subset of the
// combination: every key it names must be present with an equal value.
func matchesAnyExclude(combination Combination, excludes []map[string]any) bool {
	for _, exclude := range excludes {
		matched := len(exclude) > 0

		for key, want := range exclude {
			got, ok := combination[key]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				matched = false

				break
			}
		}

		if matched {
			return true
		}
	}

	return false
}

func containsCombination(combinations []Combination, candidate Combination) bool {
	for _, combination := range combinations {
		if combination.Key() == candidate.Key() {
			return true
		}
	}

	return false
}

// Key renders the combination as a stable "dim=value" list, used for job-run
// naming and duplicate detection.
func (c Combination) Key() string {
	if len(c) == 0 {
		return ""
	}

	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, c[name]))
	}

	return strings.Join(parts, ",")
}
