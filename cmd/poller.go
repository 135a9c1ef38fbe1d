package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/sessiond/internal/api"
	"github.com/sessiond/internal/checkpoint"
	"github.com/sessiond/internal/config"
	"github.com/sessiond/internal/database"
	"github.com/sessiond/internal/jobqueue"
	"github.com/sessiond/internal/runtime"
)

// PollerCommand returns the CLI command for the background session poller
func PollerCommand() *cli.Command {
	return &cli.Command{
		Name:  "poller",
		Usage: "Start the background session poll workers",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := api.EnsureEventSchema(ctx, db); err != nil {
				return err
			}

			// The queue owns the pgx pool; the checkpoint store and poll
			// runner share it.
			queue, err := jobqueue.NewJobQueue(cfg.Database.URL, nil)
			if err != nil {
				return fmt.Errorf("failed to create job queue: %w", err)
			}

			store := checkpoint.NewPostgresStore(queue.Pool())
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			sink := api.NewDatabaseEventSink(db)
			rt := runtime.New(store, sink, cfg.Session.HistoryLimit)
			queue.SetRunner(jobqueue.NewThreadPoller(queue.Pool(), rt))

			fmt.Println("Starting sessiond poll workers...")

			if err := queue.Start(ctx); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			defer queue.Stop(context.Background())

			err = queue.RunScheduler(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}
