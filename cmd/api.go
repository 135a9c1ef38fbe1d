package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/sessiond/internal/api"
	"github.com/sessiond/internal/checkpoint"
	"github.com/sessiond/internal/config"
	"github.com/sessiond/internal/database"
	"github.com/sessiond/internal/runtime"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the sessiond API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
				Value:   0,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			port := cfg.Server.Port
			if c.Int("port") > 0 {
				port = c.Int("port")
			}

			ctx := context.Background()

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := api.EnsureEventSchema(ctx, db); err != nil {
				return err
			}

			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to create connection pool: %w", err)
			}
			defer pool.Close()

			store := checkpoint.NewPostgresStore(pool)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			sink := api.NewDatabaseEventSink(db)
			rt := runtime.New(store, sink, cfg.Session.HistoryLimit)
			tokens := api.NewTokenService(cfg.Auth.Secret)

			fmt.Printf("Starting sessiond API server on port %d...\n", port)

			server := api.NewServer(port, rt, db, tokens)
			return server.Start()
		},
	}
}
