package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/persistence/file"
	"github.com/dmawi/gridci/pkg/persistence/postgres"
)

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	if provider == "postgres" || provider == "postgresql" {
		return "postgres"
	}

	return "file"
}
