// Package pipeline runs complete exports: scratch directory, tasks, manifest, encryption, archive and upload.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/formatter"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/packaging"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/storage"
	"github.com/desertthunder/exporter/internal/tasks"
)

// StoreProvider hands out the destination store for a locator.
type StoreProvider interface {
	Get(ctx context.Context, raw string) (storage.ObjectStore, storage.Locator, error)
}

// Deps are the collaborators of a [Pipeline].
type Deps struct {
	Config       *shared.Config
	Orchestrator *tasks.Orchestrator
	Stores       StoreProvider
	Tokens       map[string]string
	Logger       *log.Logger
	Progress     chan<- tasks.ProgressUpdate
	Now          func() time.Time
}

// Options narrow a single run.
type Options struct {
	Environments []string // empty for every configured environment
	Include      []string // overrides export.tasks when set
	Exclude      []string // added to export.exclude_tasks
	Courses      []string // overrides the organization's configured courses
	DryRun       bool
	Limit        int
	KeepWorkDir  bool // leave the scratch directory in place for inspection
}

// Result describes one packaged and uploaded export.
type Result struct {
	Organization string
	Course       string
	Artifacts    []models.Artifact
	Archive      string
	Targets      []string
}

// Pipeline runs exports described by a configuration.
type Pipeline struct {
	cfg      *shared.Config
	orch     *tasks.Orchestrator
	stores   StoreProvider
	tokens   map[string]string
	logger   *log.Logger
	progress chan<- tasks.ProgressUpdate
	now      func() time.Time
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		cfg:      deps.Config,
		orch:     deps.Orchestrator,
		stores:   deps.Stores,
		tokens:   deps.Tokens,
		logger:   logger,
		progress: deps.Progress,
		now:      now,
	}
}

func (p *Pipeline) today() string {
	return p.now().Format(time.DateOnly)
}

func (p *Pipeline) settings(workDir string, opts Options) tasks.RunSettings {
	include := p.cfg.Export.Tasks
	if len(opts.Include) > 0 {
		include = opts.Include
	}
	limit := p.cfg.Export.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	return tasks.RunSettings{
		WorkDir:  workDir,
		Name:     p.cfg.Export.Name,
		Include:  slices.Clone(include),
		Exclude:  append(slices.Clone(p.cfg.Export.ExcludeTasks), opts.Exclude...),
		DryRun:   opts.DryRun,
		Limit:    limit,
		MaxTries: p.cfg.Export.MaxTries,
	}
}

// environments builds the per-environment values for org.
func (p *Pipeline) environments(org string, filter []string) ([]tasks.Environment, error) {
	for _, name := range filter {
		if _, ok := p.cfg.Environments[name]; !ok {
			return nil, fmt.Errorf("%w: unknown environment %q", shared.ErrInvalidConfig, name)
		}
	}

	names := p.cfg.EnvironmentNames(filter...)
	envs := make([]tasks.Environment, 0, len(names))
	for _, name := range names {
		values, err := p.cfg.ValuesFor(org, name, p.tokens)
		if err != nil {
			return nil, err
		}
		if tc := p.cfg.Courses.TimeConstraint; tc > 0 {
			values["time_constraint"] = strconv.Itoa(tc)
		}
		envs = append(envs, tasks.Environment{Name: name, Values: values})
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: no environments selected", shared.ErrInvalidConfig)
	}
	return envs, nil
}

// scratch creates {work_dir}/{prefix}_XXXX/{name}-{date} and returns the inner directory and a cleanup func.
func (p *Pipeline) scratch(name string, keep bool) (string, func(), error) {
	if err := naming.EnsureDir(p.cfg.Export.WorkDir); err != nil {
		return "", nil, err
	}
	tmp, err := os.MkdirTemp(p.cfg.Export.WorkDir, name+"_")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	dir := filepath.Join(tmp, name+"-"+p.today())
	if err := os.Mkdir(dir, 0o755); err != nil {
		os.RemoveAll(tmp)
		return "", nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	cleanup := func() {
		if keep {
			p.logger.Info("keeping working directory", "dir", tmp)
			return
		}
		if err := os.RemoveAll(tmp); err != nil {
			p.logger.Warn("failed to remove working directory", "dir", tmp, "error", err)
		}
	}
	return dir, cleanup, nil
}

func (p *Pipeline) uploader(ctx context.Context, dryRun bool) (*storage.Uploader, error) {
	store, loc, err := p.stores.Get(ctx, p.cfg.Output.Locator)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %w", shared.ErrUploadFailed, p.cfg.Output.Locator, err)
	}
	return storage.NewUploader(store, loc, storage.UploaderOpts{
		MaxTries: p.cfg.Output.MaxTries,
		DryRun:   dryRun,
		Logger:   p.logger,
	}), nil
}

func (p *Pipeline) prefix(org string) string {
	if o, ok := p.cfg.Organization(org); ok && o.OutputPrefix != "" {
		return o.OutputPrefix
	}
	return p.cfg.Output.Prefix
}

func (p *Pipeline) manifest(dir string, org, course string, artifacts []models.Artifact) (string, error) {
	m := formatter.NewManifest(shared.GenerateID(), org, course, artifacts)
	m.CreatedAt = p.now().UTC()
	return formatter.WriteManifest(dir, m)
}

// ExportOrganization exports org across the selected environments, then encrypts, archives and uploads the result.
//
// Failed tasks are packaged as placeholders. Any fatal error stops the run before packaging.
func (p *Pipeline) ExportOrganization(ctx context.Context, org string, opts Options) (*Result, error) {
	orgCfg, _ := p.cfg.Organization(org)
	logger := shared.WithLogger(p.logger, "organization", org)

	envs, err := p.environments(org, opts.Environments)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := p.scratch(org, opts.KeepWorkDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	requested := orgCfg.Courses
	if len(opts.Courses) > 0 {
		requested = opts.Courses
	}
	artifacts, err := p.orch.ExportOrganization(ctx, tasks.OrgJob{
		RunSettings:  p.settings(dir, opts),
		Organization: org,
		OtherNames:   orgCfg.OtherNames,
		Courses:      requested,
		Environments: envs,
	})
	if err != nil {
		return nil, err
	}

	manifest, err := p.manifest(dir, org, "", artifacts)
	if err != nil {
		return nil, err
	}

	recipients := orgCfg.Recipients
	if len(recipients) == 0 {
		recipients = p.cfg.Encryption.Recipients
	}
	tasks.SendProgress(p.progress, tasks.StageUpdate(tasks.Encrypt, "Encrypting files..."))
	encryptor, err := packaging.NewEncryptor(packaging.EncryptorOpts{
		KeysDir:    p.cfg.Encryption.KeysDir,
		Recipients: recipients,
		MasterKey:  p.cfg.Encryption.MasterKey,
		DryRun:     opts.DryRun,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := encryptor.EncryptFiles(append(artifactPaths(artifacts), manifest)); err != nil {
		return nil, err
	}

	result := &Result{Organization: org, Artifacts: artifacts}
	if err := p.archiveAndUpload(ctx, dir, p.prefix(org), opts.DryRun, result); err != nil {
		return nil, err
	}
	logger.Info("organization export complete", "artifacts", len(artifacts), "target", result.Targets)
	return result, nil
}

// ExportSingleOrg exports org from one environment with each course in its own directory.
//
// The archive is uploaded unencrypted under {prefix}_{org}/{date}/.
func (p *Pipeline) ExportSingleOrg(ctx context.Context, org, env string, opts Options) (*Result, error) {
	orgCfg, _ := p.cfg.Organization(org)

	envs, err := p.environments(org, []string{env})
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := p.scratch(org, opts.KeepWorkDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	requested := orgCfg.Courses
	if len(opts.Courses) > 0 {
		requested = opts.Courses
	}
	artifacts, err := p.orch.ExportOrganization(ctx, tasks.OrgJob{
		RunSettings:  p.settings(dir, opts),
		Organization: org,
		OtherNames:   orgCfg.OtherNames,
		Courses:      requested,
		Environments: envs,
		CourseDirs:   true,
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.manifest(dir, org, "", artifacts); err != nil {
		return nil, err
	}

	result := &Result{Organization: org, Artifacts: artifacts}
	prefix := fmt.Sprintf("%s_%s/%s/", p.prefix(org), org, p.today())
	if err := p.archiveAndUpload(ctx, dir, prefix, opts.DryRun, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Check validates the tasks org would run without running them.
func (p *Pipeline) Check(org string, opts Options) error {
	orgCfg, _ := p.cfg.Organization(org)
	envs, err := p.environments(org, opts.Environments)
	if err != nil {
		return err
	}
	return p.orch.Validate(tasks.OrgJob{
		RunSettings:  p.settings(p.cfg.Export.WorkDir, opts),
		Organization: org,
		OtherNames:   orgCfg.OtherNames,
		Environments: envs,
	})
}

func (p *Pipeline) archiveAndUpload(ctx context.Context, dir, prefix string, dryRun bool, result *Result) error {
	tasks.SendProgress(p.progress, tasks.StageUpdate(tasks.Archive, "Archiving "+filepath.Base(dir)+"..."))
	archive, err := packaging.ArchiveDirectory(ctx, dir, dryRun, p.logger)
	if err != nil {
		return err
	}
	result.Archive = archive

	up, err := p.uploader(ctx, dryRun)
	if err != nil {
		return err
	}
	tasks.SendProgress(p.progress, tasks.StageUpdate(tasks.Upload, "Uploading "+filepath.Base(archive)+"..."))
	target, err := up.Upload(ctx, archive, prefix+filepath.Base(archive))
	if err != nil {
		return err
	}
	result.Targets = append(result.Targets, target)
	return nil
}

// ExportCourses exports each course from the first environment that lists it and uploads every file
// under {prefix}{safe_course}/state/{date}/.
//
// Courses missing from every environment abort the run before anything is exported.
func (p *Pipeline) ExportCourses(ctx context.Context, ids []string, opts Options) ([]*Result, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no courses given", shared.ErrMissingArgument)
	}
	envs, err := p.environments("", opts.Environments)
	if err != nil {
		return nil, err
	}
	located, err := p.orch.FindCourseEnvironments(ctx, ids, envs)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(ids))
	for _, id := range ids {
		res, err := p.exportCourse(ctx, id, located[id], opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Pipeline) exportCourse(ctx context.Context, id string, env tasks.Environment, opts Options) (*Result, error) {
	safe := naming.SafeCourseID(id)
	dir, cleanup, err := p.scratch(safe, opts.KeepWorkDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	artifacts, err := p.orch.ExportCourse(ctx, tasks.CourseJob{
		RunSettings: p.settings(dir, opts),
		Course:      id,
		Environment: env,
	})
	if err != nil {
		return nil, err
	}

	up, err := p.uploader(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}

	result := &Result{Course: id, Artifacts: artifacts}
	base := path.Join(p.cfg.Output.Prefix+safe, "state", p.today())
	err = filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		target, err := up.Upload(ctx, file, path.Join(base, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		result.Targets = append(result.Targets, target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func artifactPaths(artifacts []models.Artifact) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.Path
	}
	return out
}
