package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/pipeline"
)

// Properties writes the property files consumed by downstream jobs.
func (r *Runner) Properties(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Deps{Config: config, Logger: r.logger, Now: r.now})
	paths, err := p.Properties(pipeline.PropertiesRequest{
		Dir:      cmd.String("dir"),
		Patterns: cmd.String("orgs"),
		Includes: cmd.StringSlice("include"),
	})
	if err != nil {
		return err
	}

	for _, path := range paths {
		r.writePlain("%s\n", path)
	}
	r.logger.Info("wrote property files", "count", len(paths), "dir", cmd.String("dir"))
	return nil
}
