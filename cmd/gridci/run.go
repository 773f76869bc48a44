package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dmawi/gridci/pkg/cmd"
	"github.com/dmawi/gridci/pkg/channels/gochannel"
	"github.com/dmawi/gridci/pkg/config"
	"github.com/dmawi/gridci/pkg/eventbus"
	"github.com/dmawi/gridci/pkg/log"
	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/runner"
	"github.com/dmawi/gridci/pkg/trigger"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a pipeline definition file locally",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "event-type",
				Usage: "Event type to run the pipeline for (push, pull_request, dispatch)",
				Value: string(models.EventDispatch),
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Branch the event refers to",
				Value: "main",
			},
			&cli.StringSliceFlag{
				Name:  "input",
				Usage: "Dispatch input as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for run records",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("gridci").With("action", "run")

			file := command.Args().First()
			if file == "" {
				return fmt.Errorf("no pipeline file given")
			}

			pipeline, err := config.LoadPipeline(file)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", file, err)
			}

			inputs, err := parseInputs(command.StringSlice("input"))
			if err != nil {
				return err
			}

			if pipeline.On.Dispatch != nil {
				inputs = trigger.ResolveDispatchInputs(pipeline.On.Dispatch, inputs)
			}

			event := models.Event{
				ID:         uuid.New().String(),
				Type:       models.EventType(command.String("event-type")),
				Branch:     command.String("branch"),
				Inputs:     inputs,
				OccurredAt: time.Now().UTC(),
			}

			registry := cmd.NewRegistry(logger)
			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to create event channel: %w", err)
			}

			bus := eventbus.NewWatermillEventBus(pub, sub)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			pipelineRunner := runner.NewRunner("local", persistence, registry, bus, logger)

			run, err := pipelineRunner.Execute(ctx, pipeline, event)
			if err != nil {
				return fmt.Errorf("failed to execute pipeline: %w", err)
			}

			printRun(run)

			if run.Failed() {
				return fmt.Errorf("run %s failed", run.ID)
			}

			return nil
		},
	}
}

func parseInputs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	inputs := make(map[string]string, len(raw))

	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}

		inputs[key] = value
	}

	return inputs, nil
}

func printRun(run *models.Run) {
	fmt.Printf("\nRun %s: %s\n", run.ID, run.Status)

	for _, jobRun := range run.Jobs {
		fmt.Printf("  %s [%s]: %s\n", jobRun.JobName, jobRun.RunsOn, jobRun.Status)

		for _, step := range jobRun.Steps {
			line := fmt.Sprintf("    %s: %s", step.Name, step.Status)
			if step.Tolerated {
				line += " (tolerated)"
			}

			if step.Error != "" {
				line += " " + step.Error
			}

			fmt.Println(line)
		}
	}
}
