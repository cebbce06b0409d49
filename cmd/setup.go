package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/shared"
)

// Init writes the example configuration to --config.
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	return nil
}
