package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/courses"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/pipeline"
	"github.com/desertthunder/exporter/internal/services"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/storage"
	"github.com/desertthunder/exporter/internal/tasks"
	"github.com/desertthunder/exporter/internal/ui"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config   *shared.Config
	logger   *log.Logger
	output   io.Writer
	stores   pipeline.StoreProvider
	lister   courses.Lister
	registry *services.Registry
	now      func() time.Time
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Stores, Lister and Registry replace the production collaborators when set.
type RunnerOpts struct {
	Config   *shared.Config
	Logger   *log.Logger
	Output   io.Writer
	Stores   pipeline.StoreProvider
	Lister   courses.Lister
	Registry *services.Registry
	Now      func() time.Time
}

// NewRunner creates a new Runner. A nil config is loaded from --config on first use.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		config:   opts.Config,
		logger:   opts.Logger,
		output:   opts.Output,
		stores:   opts.Stores,
		lister:   opts.Lister,
		registry: opts.Registry,
		now:      opts.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		exportCommand, courseExportCommand, singleOrgCommand, tasksCommand, propertiesCommand, scheduleCommand,
		checkCommand, initCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Load applies the global flags that do not need a configuration file.
func (r *Runner) Load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	return ctx, nil
}

// loadConfig reads and validates the configuration named by --config once.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config == nil {
		config, err := shared.LoadConfig(cmd.String("config"))
		if err != nil {
			return nil, err
		}
		if err := config.Validate(); err != nil {
			return nil, err
		}
		r.config = config
		if !cmd.Bool("verbose") {
			shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Logging.Level))
		}
	}
	return r.config, nil
}

// configFor returns a copy of the configuration with the command's flags applied.
func (r *Runner) configFor(cmd *cli.Command) (*shared.Config, error) {
	base, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	config := *base

	if v := cmd.String("work-dir"); v != "" {
		config.Export.WorkDir = v
	}
	if v := cmd.String("name"); v != "" {
		config.Export.Name = v
	}
	if v := cmd.Int("limit"); v > 0 {
		config.Export.Limit = v
	}
	if v := cmd.String("output"); v != "" {
		config.Output.Locator = v
	}
	if cmd.IsSet("prefix") {
		config.Output.Prefix = cmd.String("prefix")
	}
	return &config, nil
}

func optionsFrom(cmd *cli.Command) pipeline.Options {
	return pipeline.Options{
		Environments: cmd.StringSlice("env"),
		Include:      cmd.StringSlice("task"),
		Exclude:      cmd.StringSlice("exclude-task"),
		Courses:      cmd.StringSlice("course"),
		DryRun:       cmd.Bool("dry-run"),
		KeepWorkDir:  cmd.Bool("keep-work-dir"),
	}
}

// session is one command's wired pipeline and the resources to release afterwards.
type session struct {
	pipeline *pipeline.Pipeline
	closers  []func() error
	progress chan tasks.ProgressUpdate
	done     chan struct{}
}

func (s *session) Close() error {
	if s.progress != nil {
		close(s.progress)
		<-s.done
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// open wires the collaborators for config into a pipeline.
func (r *Runner) open(config *shared.Config, quiet bool) (*session, error) {
	s := &session{}

	tokens, err := config.LoadTokens()
	if err != nil {
		return nil, err
	}

	stores := r.stores
	if stores == nil {
		pool := storage.NewPool(storage.Options{
			Region:     config.Output.Region,
			SSHKeyPath: config.Output.SSHKeyPath,
		}, config.Output.RequestsPerSecond)
		s.closers = append(s.closers, pool.Close)
		stores = pool
	}

	registry := r.registry
	if registry == nil {
		sqlBackend := services.NewSQLBackend(nil)
		s.closers = append(s.closers, sqlBackend.Close)
		registry = services.NewRegistry().
			Register(models.StructuredQuery, sqlBackend).
			Register(models.DocumentQuery, services.NewMongoBackend("")).
			Register(models.AdminCommand, services.NewAdminBackend()).
			Register(models.RemoteCopy, services.NewRemoteCopyBackend(stores))
	}

	lister := r.lister
	if lister == nil {
		memo, err := courses.NewMemoLister(&courses.AdminLister{
			WorkDir: config.Export.WorkDir,
			Logger:  r.logger,
			Now:     r.now,
		}, config.Courses.CacheSize)
		if err != nil {
			return nil, err
		}
		lister = memo
	}

	if !quiet {
		s.progress = make(chan tasks.ProgressUpdate, 50)
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			for update := range s.progress {
				if line := ui.ProgressLine(update); line != "" {
					r.writePlain("%s\n", line)
				}
			}
		}()
	}

	runner := tasks.NewTaskRunner(tasks.RunnerOpts{
		Registry: registry,
		Resolver: naming.NewResolver(naming.WithMaxLength(config.Export.MaxFilenameLength)),
		Logger:   r.logger,
		Progress: s.progress,
	})
	orchestrator := tasks.NewOrchestrator(tasks.OrchestratorOpts{
		Runner:   runner,
		Lister:   lister,
		Logger:   r.logger,
		Progress: s.progress,
	})
	s.pipeline = pipeline.New(pipeline.Deps{
		Config:       config,
		Orchestrator: orchestrator,
		Stores:       stores,
		Tokens:       tokens,
		Logger:       r.logger,
		Progress:     s.progress,
		Now:          r.now,
	})
	return s, nil
}

// organizations resolves --org against the configured organizations.
func organizations(config *shared.Config, requested []string) ([]string, error) {
	orgs := config.OrganizationNames(requested...)
	if len(requested) > 0 && len(orgs) != len(requested) {
		return nil, fmt.Errorf("%w: unknown organization in %v", shared.ErrInvalidArgument, requested)
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("%w: no organizations configured", shared.ErrInvalidConfig)
	}
	return orgs, nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeSummary(results []*pipeline.Result) {
	r.writePlain("\n%s", ui.Summary(results))
}
