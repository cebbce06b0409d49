package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/shared"
)

// Schedule runs the organization export on a cron spec until the context is cancelled.
//
// A run that is still going when the next one is due makes the next one skip.
func (r *Runner) Schedule(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}
	spec := cmd.String("spec")
	if spec == "" {
		spec = config.Schedule.Spec
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("%w: cron spec %q: %w", shared.ErrInvalidFlag, spec, err)
	}
	orgs, err := organizations(config, cmd.StringSlice("org"))
	if err != nil {
		return err
	}

	logger := cron.PrintfLogger(r.logger)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := r.scheduledRun(ctx, cmd, config, orgs); err != nil {
			r.logger.Error("scheduled export failed", "error", err)
		}
	}))

	r.logger.Info("export scheduled", "spec", spec, "next", schedule.Next(r.now()), "organizations", orgs)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("scheduler stopped")
	return nil
}

func (r *Runner) scheduledRun(ctx context.Context, cmd *cli.Command, config *shared.Config, orgs []string) error {
	s, err := r.open(config, true)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := r.exportAll(ctx, s.pipeline, orgs, optionsFrom(cmd))
	for _, res := range results {
		r.logger.Info("scheduled export uploaded", "organization", res.Organization, "targets", res.Targets)
	}
	return err
}
