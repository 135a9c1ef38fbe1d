package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sessiond/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "sessiond",
		Usage:   "Resumable agent session runtime with checkpointed onboarding workflows",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.PollerCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
