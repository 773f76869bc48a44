// Package command provides the step action that delegates to an external
// tool via the shell.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/dmawi/gridci/pkg/models"
)

const defaultTimeout = 30 * time.Minute

// Action runs a shell command and captures its combined output. The command
// itself is an opaque external tool; nothing of its behavior is interpreted
// here beyond the exit code.
type Action struct {
	Command string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

var errCommandRequired = errors.New("command action requires a 'command' configuration")

func NewAction(config map[string]any) (*Action, error) {
	command, _ := config["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, errCommandRequired
	}

	dir, _ := config["dir"].(string)

	env := make(map[string]string)
	if envConfig, ok := config["env"].(map[string]any); ok {
		for key, value := range envConfig {
			if str, ok := value.(string); ok {
				env[key] = str
			}
		}
	}

	timeout := defaultTimeout
	if seconds, ok := config["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Action{
		Command: command,
		Dir:     dir,
		Env:     env,
		Timeout: timeout,
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "command_action")
	logger.Info("Executing command", "command", a.Command)

	cmdCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", a.Command)

	// The shell's children inherit the output pipe, so killing only the
	// shell would leave Run blocked until every descendant exits. Run the
	// command in its own process group and cancel the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	if a.Dir != "" {
		cmd.Dir = a.Dir
	} else if executionCtx.WorkDir != "" {
		cmd.Dir = executionCtx.WorkDir
	}

	cmd.Env = buildEnv(executionCtx, a.Env)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	result := map[string]any{
		"output":    output.String(),
		"exit_code": exitCode,
	}

	if err != nil {
		if cmdCtx.Err() != nil {
			return result, fmt.Errorf("command canceled: %w", cmdCtx.Err())
		}

		return result, fmt.Errorf("command failed: %w", err)
	}

	logger.Info("Command completed", "exit_code", exitCode)

	return result, nil
}

// buildEnv layers the step environment over the job environment over the
// process environment, and exposes the matrix combination as MATRIX_<DIM>.
func buildEnv(executionCtx models.ExecutionContext, stepEnv map[string]string) []string {
	env := os.Environ()

	for key, value := range executionCtx.Env {
		env = append(env, key+"="+value)
	}

	for name, value := range executionCtx.Combination {
		key := "MATRIX_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env = append(env, fmt.Sprintf("%s=%v", key, value))
	}

	for key, value := range stepEnv {
		env = append(env, key+"="+value)
	}

	return env
}
