package main

import (
	"context"
	"fmt"

	"github.com/dmawi/gridci/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate pipeline definition files",
		ArgsUsage: "<file>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			files := command.Args().Slice()
			if len(files) == 0 {
				return fmt.Errorf("no pipeline files given")
			}

			fmt.Println("Pipeline Validation Results:")
			fmt.Println("============================")

			invalid := 0

			for _, file := range files {
				pipeline, err := config.LoadPipeline(file)
				if err != nil {
					fmt.Printf("\n%s\n    ❌ INVALID: %v\n", file, err)
					invalid++

					continue
				}

				fmt.Printf("\n%s\n    ✅ VALID: %s (%s), %d jobs\n", file, pipeline.Name, pipeline.ID, len(pipeline.Jobs))
			}

			if invalid > 0 {
				return fmt.Errorf("found %d invalid pipeline files", invalid)
			}

			fmt.Println("\nAll pipeline files are valid! ✅")

			return nil
		},
	}
}
