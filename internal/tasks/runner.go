package tasks

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/services"
	"github.com/desertthunder/exporter/internal/shared"
)

const (
	// FailedSuffix is appended to an artifact path to name its failure placeholder.
	FailedSuffix = ".failed"
	// FailureMessage is the content of every failure placeholder.
	FailureMessage = "This export task failed. See the exporter logs for details.\n"

	meterName     = "github.com/desertthunder/exporter/internal/tasks"
	elapsedMetric = "exporter.task.elapsed_time"
)

// RunnerOpts configures a [TaskRunner].
type RunnerOpts struct {
	Registry *services.Registry
	Resolver *naming.Resolver
	Logger   *log.Logger
	Meter    metric.Meter // defaults to the global meter provider
	// TaskTries raises the retry ceiling for tasks by name, on top of each descriptor's own MaxTries.
	TaskTries map[string]int
	Progress  chan<- ProgressUpdate
}

// TaskRunner executes single tasks with failure isolation.
//
// A backend error that is not fatal becomes a failed artifact backed by a placeholder file, and the caller
// carries on with the next task. Fatal errors are returned so the batch can stop.
type TaskRunner struct {
	registry  *services.Registry
	resolver  *naming.Resolver
	logger    *log.Logger
	taskTries map[string]int
	progress  chan<- ProgressUpdate
	elapsed   metric.Float64Histogram
}

// NewTaskRunner creates a TaskRunner.
func NewTaskRunner(opts RunnerOpts) *TaskRunner {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = naming.NewResolver()
	}
	registry := opts.Registry
	if registry == nil {
		registry = services.NewRegistry()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	tries := make(map[string]int, len(opts.TaskTries))
	for name, n := range opts.TaskTries {
		tries[strings.ToLower(name)] = n
	}

	r := &TaskRunner{
		registry:  registry,
		resolver:  resolver,
		logger:    logger,
		taskTries: tries,
		progress:  opts.Progress,
	}

	elapsed, err := meter.Float64Histogram(elapsedMetric,
		metric.WithDescription("Time spent running one export task"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("task timing disabled", "error", err)
	} else {
		r.elapsed = elapsed
	}
	return r
}

// Validate binds every task's parameters against ec without running anything.
//
// All problems are reported together; each wraps [shared.ErrConfiguration].
func (r *TaskRunner) Validate(descs []models.Descriptor, ec models.ExecContext) error {
	var errs []error
	for _, d := range descs {
		b, err := r.registry.Lookup(d.Backend)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", d.Name, err))
			continue
		}
		v, ok := b.(services.Validator)
		if !ok {
			continue
		}
		params := r.Params(ec, filepath.Join(ec.WorkDir, d.Name+"."+d.Extension))
		if err := v.Validate(d, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunTasks runs descs in order against private copies of ec.
//
// It stops at the first fatal error and returns the artifacts produced before it.
func (r *TaskRunner) RunTasks(ctx context.Context, descs []models.Descriptor, ec models.ExecContext) ([]models.Artifact, error) {
	artifacts := make([]models.Artifact, 0, len(descs))
	for i, d := range descs {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}
		a, err := r.RunOne(ctx, d, ec)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, a)
		SendProgress(r.progress, taskUpdate(i+1, len(descs), a))
	}
	return artifacts, nil
}

// RunOne runs a single task and returns the artifact it left behind.
//
// The error is non-nil only when the batch must stop: a fatal backend error, an unusable filename,
// a missing backend or a placeholder that could not be written.
func (r *TaskRunner) RunOne(ctx context.Context, desc models.Descriptor, ec models.ExecContext) (models.Artifact, error) {
	state := models.TaskPending
	local := ec.Clone()
	if tries := r.retryCeiling(desc); tries > local.MaxTries {
		local.MaxTries = tries
	}

	logger := shared.WithLogger(r.logger, "task", desc.Name, "environment", local.Environment)
	if local.Course != "" {
		logger = logger.With("course", local.Course)
	}

	filename, err := r.filename(desc, local, logger)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("task %s: %w", desc.Name, err)
	}
	if err := naming.EnsureDir(filepath.Dir(filename)); err != nil {
		return models.Artifact{}, fmt.Errorf("task %s: %w", desc.Name, err)
	}

	backend, err := r.registry.Lookup(desc.Backend)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("task %s: %w", desc.Name, err)
	}

	artifact := models.Artifact{
		Task:         desc.Name,
		Path:         filename,
		Status:       models.StatusProduced,
		Organization: local.Organization,
		Course:       local.Course,
		Environment:  local.Environment,
	}

	inv := services.Invocation{
		Task:     desc,
		Filename: filename,
		Context:  local,
		Params:   r.Params(local, filename),
		Logger:   logger,
	}

	if state, err = state.Transition(models.TaskRunning); err != nil {
		return models.Artifact{}, err
	}
	logger.Info("running task", "file", filename)

	start := time.Now()
	runErr := invoke(ctx, backend, inv)
	r.recordElapsed(ctx, desc, local, time.Since(start), runErr)

	switch {
	case runErr == nil:
		state, _ = state.Transition(models.TaskSucceeded)
		logger.Info("saved task results", "file", filename, "state", state)
		return artifact, nil

	case shared.IsFatal(runErr):
		state, _ = state.Transition(models.TaskFailedFatal)
		logger.Error("task failed fatally", "file", filename, "state", state, "error", runErr)
		return models.Artifact{}, fmt.Errorf("task %s writing %s: %w", desc.Name, filename, runErr)
	}

	state, _ = state.Transition(models.TaskFailedRecoverable)
	placeholder, err := writePlaceholder(filename)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: task %s: %w", shared.ErrFatal, desc.Name, err)
	}
	logger.Error("task failed, wrote failure file", "file", placeholder, "state", state, "error", runErr)

	artifact.Path = placeholder
	artifact.Status = models.StatusFailed
	artifact.Error = runErr.Error()
	return artifact, nil
}

// Params builds the template parameters for a task writing filename.
func (r *TaskRunner) Params(ec models.ExecContext, filename string) map[string]string {
	p := maps.Clone(ec.Values)
	if p == nil {
		p = map[string]string{}
	}

	p["filename"] = filename
	p["work_dir"] = ec.WorkDir
	p["organization"] = ec.Organization
	p["environment"] = ec.Environment
	p["name"] = ec.Name
	p["course"] = ec.Course
	p["slug"] = ""
	if ec.Course != "" {
		if key, err := naming.ParseCourseKey(ec.Course); err == nil {
			p["slug"] = key.Course
		}
	}
	p["all_organizations"] = strings.Join(append([]string{ec.Organization}, ec.OtherNames...), " ")
	p["comma_sep_courses"] = strings.Join(ec.Courses, ",")
	p["limit"] = strconv.Itoa(ec.Limit)
	return p
}

func (r *TaskRunner) retryCeiling(desc models.Descriptor) int {
	return max(desc.MaxTries, r.taskTries[strings.ToLower(desc.Name)])
}

// filename resolves the artifact path, falling back to the raw course id when it does not parse.
func (r *TaskRunner) filename(desc models.Descriptor, ec models.ExecContext, logger *log.Logger) (string, error) {
	filename, err := r.resolver.Resolve(desc, ec)
	if err == nil {
		return filename, nil
	}
	if !errors.Is(err, shared.ErrInvalidScope) || ec.Course == "" {
		return "", err
	}
	logger.Warn("using raw course id for filename", "error", err)
	return r.resolver.ResolveRaw(desc, ec)
}

func invoke(ctx context.Context, b services.Backend, inv services.Invocation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", shared.ErrTaskFailed, rec, debug.Stack())
		}
	}()
	return b.Run(ctx, inv)
}

// writePlaceholder replaces any partial output at filename with a failure file and returns its path.
func writePlaceholder(filename string) (string, error) {
	if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove partial output %s: %w", filename, err)
	}
	placeholder := filename + FailedSuffix
	if err := os.WriteFile(placeholder, []byte(FailureMessage), 0o644); err != nil {
		return "", fmt.Errorf("failed to write failure file %s: %w", placeholder, err)
	}
	return placeholder, nil
}

// recordElapsed reports task timing. Runs without an organization are not recorded and a misbehaving meter
// never affects the task outcome.
func (r *TaskRunner) recordElapsed(ctx context.Context, desc models.Descriptor, ec models.ExecContext, elapsed time.Duration, runErr error) {
	if r.elapsed == nil || ec.Organization == "" {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("failed to record task timing", "task", desc.Name, "error", rec)
		}
	}()

	status := "succeeded"
	if runErr != nil {
		status = "failed"
	}
	r.elapsed.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("organization", ec.Organization),
		attribute.String("course", ec.Course),
		attribute.String("task", desc.Name),
		attribute.String("status", status),
	))
}
