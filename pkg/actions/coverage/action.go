// Package coverage provides the step action that uploads a coverage report
// to the reporting service. It is typically declared with
// continue-on-error, so a failed upload does not fail the run.
package coverage

import (
	"context"
	"fmt"
	"log/slog"

	coverageclient "github.com/dmawi/gridci/pkg/coverage"
	"github.com/dmawi/gridci/pkg/models"
)

// Action uploads the configured coverage file. Connection settings come from
// the environment-driven coverage configuration; the step's parameters can
// override credentials and the API URL.
type Action struct {
	File   string
	Flags  map[string]string
	config coverageclient.Config
}

func NewAction(config map[string]any) (*Action, error) {
	file, _ := config["file"].(string)
	if file == "" {
		file = "coverage.xml"
	}

	flags := make(map[string]string)
	if flagsConfig, ok := config["flags"].(map[string]any); ok {
		for key, value := range flagsConfig {
			flags[key] = fmt.Sprintf("%v", value)
		}
	}

	overrides := &coverageclient.Overrides{}
	if url, ok := config["api_url"].(string); ok && url != "" {
		overrides.APIURL = &url
	}

	if username, ok := config["username"].(string); ok && username != "" {
		overrides.Username = &username
	}

	if password, ok := config["password"].(string); ok && password != "" {
		overrides.Password = &password
	}

	clientConfig, err := coverageclient.NewConfig(overrides)
	if err != nil {
		return nil, fmt.Errorf("coverage upload misconfigured: %w", err)
	}

	return &Action{
		File:   file,
		Flags:  flags,
		config: clientConfig,
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "coverage_action")

	client, err := coverageclient.NewClient(a.config, logger)
	if err != nil {
		return nil, err
	}

	// Tag the report with the matrix combination it was collected on.
	flags := make(map[string]string, len(a.Flags)+len(executionCtx.Combination))
	for name, value := range executionCtx.Combination {
		flags[name] = fmt.Sprintf("%v", value)
	}

	for key, value := range a.Flags {
		flags[key] = value
	}

	result, err := client.Upload(ctx, a.File, flags)
	if err != nil {
		return nil, fmt.Errorf("coverage upload failed: %w", err)
	}

	return map[string]any{
		"report_id": result.ReportID,
		"url":       result.URL,
	}, nil
}
