package tasks

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/catalog"
	"github.com/desertthunder/exporter/internal/courses"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/shared"
)

// Environment is a named set of configuration values, such as prod or edge.
type Environment struct {
	Name   string
	Values map[string]string
}

// RunSettings are the options shared by every export job.
type RunSettings struct {
	WorkDir  string
	Name     string
	Include  []string
	Exclude  []string
	DryRun   bool
	Limit    int
	MaxTries int
}

// OrgJob exports one organization across its environments.
type OrgJob struct {
	RunSettings
	Organization string
	OtherNames   []string
	Courses      []string // requested courses, empty for every listed course
	Environments []Environment
	// CourseDirs writes each course's artifacts into a subdirectory named after the course.
	CourseDirs bool
}

// CourseJob exports one course from the environment that lists it.
type CourseJob struct {
	RunSettings
	Course      string
	Environment Environment
}

// OrchestratorOpts configures an [Orchestrator].
type OrchestratorOpts struct {
	Catalog  *catalog.Catalog
	Runner   *TaskRunner
	Lister   courses.Lister
	Logger   *log.Logger
	Progress chan<- ProgressUpdate
}

// Orchestrator drives task selection and the runner across organizations, environments and courses.
type Orchestrator struct {
	catalog  *catalog.Catalog
	runner   *TaskRunner
	lister   courses.Lister
	logger   *log.Logger
	progress chan<- ProgressUpdate
}

// NewOrchestrator creates an Orchestrator. A nil catalog uses [catalog.Default].
func NewOrchestrator(opts OrchestratorOpts) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewTaskRunner(RunnerOpts{Logger: logger, Progress: opts.Progress})
	}
	return &Orchestrator{catalog: cat, runner: runner, lister: opts.Lister, logger: logger, progress: opts.Progress}
}

// context builds the base execution context. An environment's own name value overrides the run name.
func (o *Orchestrator) context(s RunSettings, env Environment) models.ExecContext {
	values := maps.Clone(env.Values)
	if values == nil {
		values = map[string]string{}
	}
	name := s.Name
	if v := values["name"]; v != "" {
		name = v
	}
	return models.ExecContext{
		Environment: env.Name,
		Name:        name,
		WorkDir:     s.WorkDir,
		DryRun:      s.DryRun,
		Limit:       s.Limit,
		MaxTries:    s.MaxTries,
		Values:      values,
	}
}

func (o *Orchestrator) selected(s RunSettings, scope models.Scope, env string) []models.Descriptor {
	return Select(o.catalog.All(), SelectRequest{Scope: scope, Include: s.Include, Exclude: s.Exclude, Environment: env})
}

// ExportOrganization runs the organization tasks and then the course tasks of every course, for each environment.
//
// Every environment is validated before anything runs. Courses are listed per environment; an environment whose
// listing fails falls back to the requested courses, but when every listing fails the export is aborted with
// [shared.ErrCourseListing]. Artifacts produced before a fatal error are returned with it.
func (o *Orchestrator) ExportOrganization(ctx context.Context, job OrgJob) ([]models.Artifact, error) {
	logger := shared.WithLogger(o.logger, "organization", job.Organization)
	logger.Info("exporting organization data")

	if err := o.Validate(job); err != nil {
		return nil, err
	}

	listed, err := o.listAll(ctx, job.Environments, logger)
	if err != nil {
		return nil, err
	}

	var artifacts []models.Artifact
	for i, env := range job.Environments {
		envLogger := logger.With("environment", env.Name)
		SendProgress(o.progress, organizationUpdate(i+1, len(job.Environments), job.Organization, env.Name))

		ec := o.orgContext(job, env)
		ec.Courses = courses.OrgCourses(job.Courses, listed[env.Name], job.Organization, job.OtherNames)
		if len(ec.Courses) == 0 {
			envLogger.Info("no courses found", "names", append([]string{job.Organization}, job.OtherNames...))
		} else {
			envLogger.Info("selected courses", "count", len(ec.Courses))
		}

		produced, err := o.runner.RunTasks(ctx, o.selected(job.RunSettings, models.ScopeOrganization, env.Name), ec)
		artifacts = append(artifacts, produced...)
		if err != nil {
			return artifacts, err
		}

		courseTasks := o.selected(job.RunSettings, models.ScopeCourse, env.Name)
		for j, course := range ec.Courses {
			SendProgress(o.progress, courseUpdate(j+1, len(ec.Courses), course))
			envLogger.Info("getting data for course", "course", course)

			cec := ec.Clone()
			cec.Course = course
			if job.CourseDirs {
				cec.WorkDir = filepath.Join(job.WorkDir, naming.SafeCourseID(course))
				if err := naming.EnsureDir(cec.WorkDir); err != nil {
					return artifacts, err
				}
			}

			produced, err := o.runner.RunTasks(ctx, courseTasks, cec)
			artifacts = append(artifacts, produced...)
			if err != nil {
				return artifacts, err
			}
		}
	}
	return artifacts, nil
}

// Validate checks the parameters of every task job would run, in every environment, without running anything.
func (o *Orchestrator) Validate(job OrgJob) error {
	for _, env := range job.Environments {
		ec := o.orgContext(job, env)
		descs := append(o.selected(job.RunSettings, models.ScopeOrganization, env.Name),
			o.selected(job.RunSettings, models.ScopeCourse, env.Name)...)
		if err := o.runner.Validate(descs, ec); err != nil {
			return fmt.Errorf("environment %s: %w", env.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) orgContext(job OrgJob, env Environment) models.ExecContext {
	ec := o.context(job.RunSettings, env)
	ec.Organization = job.Organization
	ec.OtherNames = slices.Clone(job.OtherNames)
	return ec
}

// listAll lists the courses of every environment. Failures are logged unless every environment fails.
func (o *Orchestrator) listAll(ctx context.Context, envs []Environment, logger *log.Logger) (map[string][]string, error) {
	listed := make(map[string][]string, len(envs))
	if len(envs) == 0 {
		return listed, nil
	}
	if o.lister == nil {
		return nil, fmt.Errorf("%w: no course lister configured", shared.ErrCourseListing)
	}

	var lastErr error
	for i, env := range envs {
		SendProgress(o.progress, listCoursesUpdate(i+1, len(envs), env.Name))
		all, err := o.lister.List(ctx, courses.ParamsFrom(env.Values))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("failed to retrieve list of all courses", "environment", env.Name, "error", err)
			lastErr = err
			continue
		}
		listed[env.Name] = all
	}
	if len(listed) == 0 {
		return nil, fmt.Errorf("%w: every environment failed: %w", shared.ErrCourseListing, lastErr)
	}
	return listed, nil
}

// FindCourseEnvironments assigns each course to the first environment whose listing contains it.
//
// Courses found nowhere return [shared.ErrCourseNotFound].
func (o *Orchestrator) FindCourseEnvironments(ctx context.Context, ids []string, envs []Environment) (map[string]Environment, error) {
	found := make(map[string]Environment, len(ids))
	remaining := slices.Clone(ids)

	for _, env := range envs {
		if len(remaining) == 0 {
			break
		}
		if o.lister == nil {
			break
		}
		all, err := o.lister.List(ctx, courses.ParamsFrom(env.Values))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.logger.Warn("failed to retrieve list of all courses", "environment", env.Name, "error", err)
			continue
		}

		var missing []string
		for _, id := range remaining {
			if slices.Contains(all, id) {
				found[id] = env
			} else {
				missing = append(missing, id)
			}
		}
		remaining = missing
	}

	if len(remaining) > 0 {
		o.logger.Error("failed to find courses", "courses", remaining)
		return nil, fmt.Errorf("%w: %v", shared.ErrCourseNotFound, remaining)
	}
	return found, nil
}

// ExportCourse runs the course tasks for one course.
func (o *Orchestrator) ExportCourse(ctx context.Context, job CourseJob) ([]models.Artifact, error) {
	o.logger.Info("exporting data for course", "course", job.Course, "environment", job.Environment.Name)

	ec := o.context(job.RunSettings, job.Environment)
	ec.Course = job.Course
	ec.Courses = []string{job.Course}
	if key, err := naming.ParseCourseKey(job.Course); err == nil {
		ec.Organization = key.Org
	}

	descs := o.selected(job.RunSettings, models.ScopeCourse, job.Environment.Name)
	if err := o.runner.Validate(descs, ec); err != nil {
		return nil, err
	}
	return o.runner.RunTasks(ctx, descs, ec)
}
