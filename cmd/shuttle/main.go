package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/shuttle-ci/shuttle/log"
	"github.com/shuttle-ci/shuttle/server"
)

func main() {
	cmd := &cli.Command{
		Name:  "shuttle",
		Usage: "CI/CD pipeline execution engine",
		Commands: []*cli.Command{
			server.Command(),
			runCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("shuttle")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
