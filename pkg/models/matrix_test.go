package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMatrixUnmarshalYAML(t *testing.T) {
	raw := `
os: [ubuntu-22.04, macos-14]
interpreter: ["3.11", "3.12"]
exclude:
  - os: macos-14
    interpreter: "3.11"
include:
  - os: windows-2022
    interpreter: "3.13"
`

	var matrix Matrix

	require.NoError(t, yaml.Unmarshal([]byte(raw), &matrix))

	assert.Len(t, matrix.Dimensions, 2)
	assert.Equal(t, []any{"ubuntu-22.04", "macos-14"}, matrix.Dimensions["os"])
	assert.Equal(t, []any{"3.11", "3.12"}, matrix.Dimensions["interpreter"])

	require.Len(t, matrix.Exclude, 1)
	assert.Equal(t, "macos-14", matrix.Exclude[0]["os"])

	require.Len(t, matrix.Include, 1)
	assert.Equal(t, "windows-2022", matrix.Include[0]["os"])
}

func TestMatrixUnmarshalYAML_DimensionNotAList(t *testing.T) {
	var matrix Matrix

	err := yaml.Unmarshal([]byte("os: ubuntu-22.04"), &matrix)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a list")
}

func TestMatrixValidate(t *testing.T) {
	assert.ErrorIs(t, (&Matrix{}).Validate(), ErrEmptyMatrix)

	err := (&Matrix{Dimensions: map[string][]any{"os": {}}}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no values")

	assert.NoError(t, (&Matrix{Include: []map[string]any{{"os": "linux"}}}).Validate())
}
