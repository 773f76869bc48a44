package main

import (
	"context"
	"fmt"

	"github.com/dmawi/gridci/pkg/cmd"
	"github.com/dmawi/gridci/pkg/config"
	"github.com/dmawi/gridci/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Aliases:   []string{"i"},
		Usage:     "Import pipeline definition files into persistence",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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

			logger := log.WithModule("gridci").With("action", "import")

			files := command.Args().Slice()
			if len(files) == 0 {
				return fmt.Errorf("no pipeline files given")
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			for _, file := range files {
				pipeline, err := config.LoadPipeline(file)
				if err != nil {
					return fmt.Errorf("failed to load %s: %w", file, err)
				}

				if err := persistence.SavePipeline(ctx, pipeline); err != nil {
					return fmt.Errorf("failed to save %s: %w", file, err)
				}

				fmt.Printf("Imported %s (%s)\n", pipeline.Name, pipeline.ID)
			}

			return nil
		},
	}
}
