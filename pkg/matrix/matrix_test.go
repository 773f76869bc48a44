package matrix

import (
	"testing"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_NilMatrix(t *testing.T) {
	combinations, err := Expand(nil)

	require.NoError(t, err)
	require.Len(t, combinations, 1)
	assert.Empty(t, combinations[0])
}

func TestExpand_CrossProduct(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"os":      {"ubuntu-22.04", "macos-14"},
			"version": {"3.11", "3.12", "3.13"},
		},
	}

	combinations, err := Expand(m)

	require.NoError(t, err)
	require.Len(t, combinations, 6)

	// Every pair appears exactly once.
	seen := make(map[string]int)
	for _, combination := range combinations {
		seen[combination.Key()]++
	}

	for key, count := range seen {
		assert.Equal(t, 1, count, "combination %s expanded more than once", key)
	}

	assert.Contains(t, seen, "os=ubuntu-22.04,version=3.11")
	assert.Contains(t, seen, "os=macos-14,version=3.13")
}

func TestExpand_DeterministicOrder(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"version": {"3.11", "3.12"},
			"os":      {"ubuntu-22.04", "macos-14"},
		},
	}

	first, err := Expand(m)
	require.NoError(t, err)

	for range 10 {
		again, err := Expand(m)
		require.NoError(t, err)

		require.Len(t, again, len(first))

		for i := range first {
			assert.Equal(t, first[i].Key(), again[i].Key())
		}
	}

	// Dimension names are walked in sorted order, so "os" varies slowest.
	assert.Equal(t, "os=ubuntu-22.04,version=3.11", first[0].Key())
	assert.Equal(t, "os=ubuntu-22.04,version=3.12", first[1].Key())
	assert.Equal(t, "os=macos-14,version=3.11", first[2].Key())
}

func TestExpand_Exclude(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"os":      {"ubuntu-22.04", "macos-14"},
			"version": {"3.11", "3.12"},
		},
		Exclude: []map[string]any{
			{"os": "macos-14", "version": "3.11"},
		},
	}

	combinations, err := Expand(m)

	require.NoError(t, err)
	require.Len(t, combinations, 3)

	for _, combination := range combinations {
		assert.NotEqual(t, "os=macos-14,version=3.11", combination.Key())
	}
}

func TestExpand_ExcludeSubsetMatch(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"os":      {"ubuntu-22.04", "macos-14"},
			"version": {"3.11", "3.12"},
		},
		Exclude: []map[string]any{
			{"os": "macos-14"},
		},
	}

	combinations, err := Expand(m)

	require.NoError(t, err)
	require.Len(t, combinations, 2)

	for _, combination := range combinations {
		assert.Equal(t, "ubuntu-22.04", combination["os"])
	}
}

func TestExpand_Include(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"os":      {"ubuntu-22.04"},
			"version": {"3.12"},
		},
		Include: []map[string]any{
			{"os": "windows-2022", "version": "3.13"},
			// Duplicate of a cross-product entry, must not run twice.
			{"os": "ubuntu-22.04", "version": "3.12"},
		},
	}

	combinations, err := Expand(m)

	require.NoError(t, err)
	require.Len(t, combinations, 2)
	assert.Equal(t, "os=ubuntu-22.04,version=3.12", combinations[0].Key())
	assert.Equal(t, "os=windows-2022,version=3.13", combinations[1].Key())
}

func TestExpand_ExcludeAllWithoutInclude(t *testing.T) {
	m := &models.Matrix{
		Dimensions: map[string][]any{
			"os": {"ubuntu-22.04"},
		},
		Exclude: []map[string]any{
			{"os": "ubuntu-22.04"},
		},
	}

	_, err := Expand(m)

	assert.Error(t, err)
}

func TestExpand_EmptyMatrix(t *testing.T) {
	_, err := Expand(&models.Matrix{})

	assert.ErrorIs(t, err, models.ErrEmptyMatrix)
}

func TestCombinationKey(t *testing.T) {
	assert.Equal(t, "", Combination{}.Key())
	assert.Equal(t, "a=1,b=two", Combination{"b": "two", "a": 1}.Key())
}
