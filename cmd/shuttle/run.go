package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/shuttle-ci/shuttle/engine"
	"github.com/shuttle-ci/shuttle/event"
	"github.com/shuttle-ci/shuttle/pipeline"
	"github.com/shuttle-ci/shuttle/runner"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a pipeline definition file locally",
		ArgsUsage: "<pipeline.yaml>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fail-fast", Usage: "skip remaining stages after the first failure"},
			&cli.IntFlag{Name: "max-concurrency", Value: 4, Usage: "maximum concurrent branches"},
			&cli.DurationFlag{Name: "timeout", Usage: "overall run timeout"},
			&cli.StringFlag{Name: "branch", Usage: "branch that triggered this run"},
			&cli.StringFlag{Name: "tag", Usage: "tag that triggered this run"},
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "parameter override, NAME=value"},
			&cli.StringFlag{Name: "image", Usage: "run commands in containers of this image"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("usage: shuttle run <pipeline.yaml>")
	}

	contents, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	p, err := pipeline.Load(contents)
	if err != nil {
		return err
	}

	params := make(map[string]string)
	for _, kv := range cmd.StringSlice("param") {
		name, value, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("parameter %q is not NAME=value", kv)
		}
		params[name] = value
	}

	var rn runner.Runner
	if img := cmd.String("image"); img != "" {
		rn, err = runner.NewDocker(ctx, img)
		if err != nil {
			return err
		}
	} else {
		rn = runner.NewLocal(ctx)
	}

	events := event.NewLog(event.NewMemoryStore())
	eng := engine.New(ctx, rn, events, engine.Config{
		MaxConcurrency: int(cmd.Int("max-concurrency")),
	})

	start := time.Now()
	res, err := eng.Execute(ctx, p, pipeline.Options{
		FailFast:       cmd.Bool("fail-fast"),
		DefaultTimeout: cmd.Duration("timeout"),
		MaxConcurrency: int(cmd.Int("max-concurrency")),
		Params:         params,
		Branch:         cmd.String("branch"),
		Tag:            cmd.String("tag"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%s: %s (%s, took %s)\n", res.Pipeline, res.Status, res.RunID,
		time.Since(start).Round(time.Millisecond))
	for _, sr := range res.Stages {
		line := fmt.Sprintf("  %-30s %s", sr.Stage, sr.Status)
		if sr.Cause != nil {
			line += "  " + sr.Cause.Error()
		}
		fmt.Println(line)
	}

	if res.Status == pipeline.StatusFailure {
		return cli.Exit("", 1)
	}
	return nil
}
