package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/pipeline"
	"github.com/desertthunder/exporter/internal/shared"
)

// Export runs the organization export for every selected organization.
//
// Organizations are exported one after another; the first error stops the run.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}
	orgs, err := organizations(config, cmd.StringSlice("org"))
	if err != nil {
		return err
	}

	s, err := r.open(config, cmd.Bool("quiet"))
	if err != nil {
		return err
	}

	results, err := r.exportAll(ctx, s.pipeline, orgs, optionsFrom(cmd))
	if cerr := s.Close(); cerr != nil {
		r.logger.Warn("failed to release resources", "error", cerr)
	}
	if len(results) > 0 {
		r.writeSummary(results)
	}
	return err
}

func (r *Runner) exportAll(ctx context.Context, p *pipeline.Pipeline, orgs []string, opts pipeline.Options) ([]*pipeline.Result, error) {
	results := make([]*pipeline.Result, 0, len(orgs))
	for _, org := range orgs {
		res, err := p.ExportOrganization(ctx, org, opts)
		if err != nil {
			return results, fmt.Errorf("organization %s: %w", org, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// CourseExport exports the course ids given as arguments.
func (r *Runner) CourseExport(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one course id is required", shared.ErrMissingArgument)
	}

	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}
	s, err := r.open(config, cmd.Bool("quiet"))
	if err != nil {
		return err
	}

	results, err := s.pipeline.ExportCourses(ctx, ids, optionsFrom(cmd))
	if cerr := s.Close(); cerr != nil {
		r.logger.Warn("failed to release resources", "error", cerr)
	}
	if len(results) > 0 {
		r.writeSummary(results)
	}
	return err
}

// SingleOrg exports one organization from one environment.
func (r *Runner) SingleOrg(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}
	orgs, err := organizations(config, []string{cmd.String("org")})
	if err != nil {
		return err
	}

	s, err := r.open(config, cmd.Bool("quiet"))
	if err != nil {
		return err
	}

	opts := optionsFrom(cmd)
	opts.Environments = nil
	res, err := s.pipeline.ExportSingleOrg(ctx, orgs[0], cmd.String("env"), opts)
	if cerr := s.Close(); cerr != nil {
		r.logger.Warn("failed to release resources", "error", cerr)
	}
	if err != nil {
		return err
	}
	r.writeSummary([]*pipeline.Result{res})
	return nil
}

// Check validates the configuration and the parameters of every task each organization would run.
func (r *Runner) Check(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configFor(cmd)
	if err != nil {
		return err
	}
	orgs, err := organizations(config, cmd.StringSlice("org"))
	if err != nil {
		return err
	}

	s, err := r.open(config, true)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, org := range orgs {
		if err := s.pipeline.Check(org, pipeline.Options{}); err != nil {
			return fmt.Errorf("organization %s: %w", org, err)
		}
		r.writePlain("%s: ok\n", org)
	}
	return nil
}
