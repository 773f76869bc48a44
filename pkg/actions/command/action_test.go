package command

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNewAction(t *testing.T) {
	action, err := NewAction(map[string]any{"command": "echo hi"})

	require.NoError(t, err)
	assert.Equal(t, "echo hi", action.Command)
	assert.Equal(t, defaultTimeout, action.Timeout)
}

func TestNewAction_RequiresCommand(t *testing.T) {
	_, err := NewAction(map[string]any{})
	assert.ErrorIs(t, err, errCommandRequired)

	_, err = NewAction(map[string]any{"command": "   "})
	assert.ErrorIs(t, err, errCommandRequired)
}

func TestExecute(t *testing.T) {
	action, err := NewAction(map[string]any{"command": "echo hello world"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{}, testLogger())

	require.NoError(t, err)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, output["output"], "hello world")
	assert.Equal(t, 0, output["exit_code"])
}

func TestExecute_Failure(t *testing.T) {
	action, err := NewAction(map[string]any{"command": "exit 3"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, output["exit_code"])
}

func TestExecute_MatrixEnvironment(t *testing.T) {
	action, err := NewAction(map[string]any{"command": "echo $MATRIX_OS $MATRIX_PYTHON_VERSION"})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		Combination: map[string]any{
			"os":             "ubuntu-22.04",
			"python-version": "3.12",
		},
	}

	result, err := action.Execute(context.Background(), executionCtx, testLogger())

	require.NoError(t, err)

	output := result.(map[string]any)["output"].(string)
	assert.Contains(t, output, "ubuntu-22.04")
	assert.Contains(t, output, "3.12")
}

func TestExecute_StepEnvOverridesJobEnv(t *testing.T) {
	action, err := NewAction(map[string]any{
		"command": "echo $GREETING",
		"env":     map[string]any{"GREETING": "from-step"},
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		Env: map[string]string{"GREETING": "from-job"},
	}

	result, err := action.Execute(context.Background(), executionCtx, testLogger())

	require.NoError(t, err)
	assert.Contains(t, result.(map[string]any)["output"], "from-step")
}

func TestExecute_WorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o644))

	action, err := NewAction(map[string]any{"command": "cat marker.txt"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{WorkDir: dir}, testLogger())

	require.NoError(t, err)
	assert.Contains(t, result.(map[string]any)["output"], "here")
}

func TestExecute_Timeout(t *testing.T) {
	action, err := NewAction(map[string]any{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = action.Execute(context.Background(), models.ExecutionContext{}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "command canceled")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecute_TimeoutKillsChildProcesses(t *testing.T) {
	// The background children inherit the output pipe; the timeout must
	// take down the whole process group, not just the shell.
	action, err := NewAction(map[string]any{
		"command": "sleep 5 & sleep 5 & wait",
		"timeout": float64(1),
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = action.Execute(context.Background(), models.ExecutionContext{}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "command canceled")
	assert.Less(t, time.Since(start), 3*time.Second)
}
