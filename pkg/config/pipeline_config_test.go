package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullPipelineYAML = `
name: Python Test Suite
on:
  push:
    branches: [main]
  pull_request: {}
  schedule:
    - cron: "30 2 * * *"
  dispatch:
    inputs:
      environment:
        description: Target environment
        required: true
jobs:
  test:
    runs-on: ubuntu-22.04
    timeout-minutes: 30
    strategy:
      fail-fast: false
      matrix:
        os: [ubuntu-22.04, macos-14]
        interpreter: ["3.11", "3.12"]
        exclude:
          - os: macos-14
            interpreter: "3.11"
    steps:
      - name: install
        run: pip install -e .[test]
      - name: test
        run: pytest --cov
        env:
          PYTEST_ADDOPTS: -q
      - name: upload coverage
        uses: coverage-upload
        continue-on-error: true
        with:
          file: coverage.xml
`

func TestParsePipeline(t *testing.T) {
	pipeline, err := ParsePipeline([]byte(fullPipelineYAML))

	require.NoError(t, err)
	assert.Equal(t, "python-test-suite", pipeline.ID)
	assert.Equal(t, "Python Test Suite", pipeline.Name)

	require.NotNil(t, pipeline.On.Push)
	assert.Equal(t, []string{"main"}, pipeline.On.Push.Branches)
	require.NotNil(t, pipeline.On.PullRequest)
	require.Len(t, pipeline.On.Schedule, 1)
	assert.Equal(t, "30 2 * * *", pipeline.On.Schedule[0].Cron)
	require.NotNil(t, pipeline.On.Dispatch)
	assert.True(t, pipeline.On.Dispatch.Inputs["environment"].Required)

	job := pipeline.Jobs["test"]
	require.NotNil(t, job)
	assert.Equal(t, "ubuntu-22.04", job.RunsOn)
	assert.Equal(t, 30, job.TimeoutMinutes)

	require.NotNil(t, job.Strategy)
	assert.False(t, job.Strategy.FailFastEnabled())
	require.NotNil(t, job.Strategy.Matrix)
	assert.Len(t, job.Strategy.Matrix.Dimensions, 2)
	assert.Len(t, job.Strategy.Matrix.Exclude, 1)

	require.Len(t, job.Steps, 3)
	assert.Equal(t, "pip install -e .[test]", job.Steps[0].Run)
	assert.Equal(t, "-q", job.Steps[1].Env["PYTEST_ADDOPTS"])
	assert.Equal(t, "coverage-upload", job.Steps[2].Uses)
	assert.True(t, job.Steps[2].ContinueOnError)
	assert.Equal(t, "coverage.xml", job.Steps[2].With["file"])
}

func TestParsePipeline_KeepsExplicitID(t *testing.T) {
	raw := `
id: custom-id
name: Named Pipeline
on:
  push: {}
jobs:
  test:
    runs-on: ubuntu-22.04
    steps:
      - run: "true"
`

	pipeline, err := ParsePipeline([]byte(raw))

	require.NoError(t, err)
	assert.Equal(t, "custom-id", pipeline.ID)
}

func TestParsePipeline_InvalidYAML(t *testing.T) {
	_, err := ParsePipeline([]byte("jobs: ["))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParsePipeline_SchemaViolations(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{
			name: "missing name",
			raw: `
on:
  push: {}
jobs:
  test:
    runs-on: ubuntu-22.04
    steps: [{run: "true"}]
`,
		},
		{
			name: "missing jobs",
			raw: `
name: No Jobs
on:
  push: {}
`,
		},
		{
			name: "job without runs-on",
			raw: `
name: Bad Job
on:
  push: {}
jobs:
  test:
    steps: [{run: "true"}]
`,
		},
		{
			name: "job without steps",
			raw: `
name: Bad Job
on:
  push: {}
jobs:
  test:
    runs-on: ubuntu-22.04
`,
		},
		{
			name: "unknown trigger",
			raw: `
name: Bad Trigger
on:
  release: {}
jobs:
  test:
    runs-on: ubuntu-22.04
    steps: [{run: "true"}]
`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(testCase.raw))

			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid pipeline document")
		})
	}
}

func TestParsePipeline_NoTriggers(t *testing.T) {
	raw := `
name: Triggerless
on: {}
jobs:
  test:
    runs-on: ubuntu-22.04
    steps: [{run: "true"}]
`

	_, err := ParsePipeline([]byte(raw))

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidPipeline)
}

func TestParsePipeline_BadCron(t *testing.T) {
	raw := `
name: Bad Cron
on:
  schedule:
    - cron: "once a day"
jobs:
  test:
    runs-on: ubuntu-22.04
    steps: [{run: "true"}]
`

	_, err := ParsePipeline([]byte(raw))

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidCron)
}

func TestLoadPipeline(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pipeline.yml")

	require.NoError(t, os.WriteFile(file, []byte(fullPipelineYAML), 0o644))

	pipeline, err := LoadPipeline(file)

	require.NoError(t, err)
	assert.Equal(t, "python-test-suite", pipeline.ID)
}

func TestLoadPipeline_MissingFile(t *testing.T) {
	_, err := LoadPipeline(filepath.Join(t.TempDir(), "nope.yml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read pipeline file")
}
