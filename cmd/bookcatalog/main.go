// cmd/bookcatalog/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/config"
	"bookcatalog/internal/store/memory"
	"bookcatalog/internal/store/postgres"
	"bookcatalog/internal/store/sqlite"
	"bookcatalog/pkg/logger"
)

var version = "dev"

// CLI is the bookcatalog command tree.
type CLI struct {
	Config string `help:"Path to a config file (yaml, json or toml)" type:"path" env:"BOOKCATALOG_CONFIG"`

	Serve     ServeCmd     `cmd:"" default:"1" help:"Run the HTTP API"`
	Migrate   MigrateCmd   `cmd:"" help:"Create or update the database schema"`
	Reconcile ReconcileCmd `cmd:"" help:"Check that every book has exactly one rating and every average is current"`
	Top       TopCmd       `cmd:"" help:"Print the top rated books from a running server"`
}

// Globals is bound into every command's Run.
type Globals struct {
	ConfigPath string
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bookcatalog"),
		kong.Description("A book catalog with ratings and Google Books enrichment."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&Globals{ConfigPath: cli.Config}); err != nil {
		fmt.Fprintf(os.Stderr, "bookcatalog: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger every command uses.
func setup(g *Globals) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.OTel.ServiceName, cfg.Log.Level, cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

// openStore opens the configured backend. Database backends are migrated
// on open.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (catalog.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("Using postgres store")
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("Using sqlite store", zap.String("path", cfg.Store.DSN))
		return s, nil
	default:
		log.Warn("Using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
}
