package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/services"
	"github.com/desertthunder/exporter/internal/shared"
	th "github.com/desertthunder/exporter/internal/testing"
)

// recordingBackend writes the task name into the output file unless told to fail.
type recordingBackend struct {
	calls  []string
	seen   []models.ExecContext
	params []map[string]string
	fail   map[string]error
	panics map[string]bool
	mutate bool
}

func (b *recordingBackend) Run(ctx context.Context, inv services.Invocation) error {
	b.calls = append(b.calls, inv.Task.Name)
	b.seen = append(b.seen, inv.Context)
	b.params = append(b.params, inv.Params)
	if b.mutate {
		inv.Context.Values["leaked"] = inv.Task.Name
		inv.Context.Courses = append(inv.Context.Courses[:0], "mutated")
	}
	if b.panics[inv.Task.Name] {
		panic("backend exploded")
	}
	if err, ok := b.fail[inv.Task.Name]; ok {
		_ = os.WriteFile(inv.Filename, []byte("partial"), 0o644)
		return err
	}
	return os.WriteFile(inv.Filename, []byte(inv.Task.Name), 0o644)
}

func newTestRunner(b services.Backend, opts RunnerOpts) *TaskRunner {
	opts.Registry = services.NewRegistry().
		Register(models.StructuredQuery, b).
		Register(models.AdminCommand, b)
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return NewTaskRunner(opts)
}

func courseTask(name string) models.Descriptor {
	return models.Descriptor{Name: name, Scope: models.ScopeCourse, Backend: models.StructuredQuery, Extension: "csv", Template: "SELECT 1"}
}

func orgTask(name string) models.Descriptor {
	return models.Descriptor{Name: name, Scope: models.ScopeOrganization, Backend: models.StructuredQuery, Extension: "csv", Template: "SELECT 1"}
}

func baseContext(t *testing.T) models.ExecContext {
	return models.ExecContext{
		Organization: "orgx",
		OtherNames:   []string{"OrgXAlias"},
		Course:       "course-v1:orgx+C1+2024",
		Environment:  "prod",
		Courses:      []string{"course-v1:orgx+C1+2024", "course-v1:orgx+C2+2024"},
		Name:         "prod",
		WorkDir:      t.TempDir(),
		Values:       map[string]string{"sql_db": "edxapp"},
	}
}

func TestRunOne(t *testing.T) {
	t.Run("success produces artifact", func(t *testing.T) {
		b := &recordingBackend{}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		a, err := r.RunOne(context.Background(), courseTask("CourseA"), ec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := filepath.Join(ec.WorkDir, "orgx-C1-2024-CourseA-prod.csv")
		if a.Path != want || a.Status != models.StatusProduced {
			t.Errorf("unexpected artifact %+v", a)
		}
		if got := th.MustReadFile(t, want); got != "CourseA" {
			t.Errorf("unexpected content %q", got)
		}
	})

	t.Run("failure writes placeholder", func(t *testing.T) {
		b := &recordingBackend{fail: map[string]error{"CourseA": errors.New("table missing")}}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		a, err := r.RunOne(context.Background(), courseTask("CourseA"), ec)
		if err != nil {
			t.Fatalf("non-fatal failure should not return an error: %v", err)
		}
		output := filepath.Join(ec.WorkDir, "orgx-C1-2024-CourseA-prod.csv")
		if a.Status != models.StatusFailed || a.Path != output+FailedSuffix {
			t.Errorf("unexpected artifact %+v", a)
		}
		if !strings.Contains(a.Error, "table missing") {
			t.Errorf("expected error recorded, got %q", a.Error)
		}
		th.AssertFileMissing(t, output)
		if got := th.MustReadFile(t, a.Path); got != FailureMessage {
			t.Errorf("unexpected placeholder content %q", got)
		}
	})

	t.Run("fatal error propagates", func(t *testing.T) {
		b := &recordingBackend{fail: map[string]error{"CourseA": fmt.Errorf("%w: mongoexport", shared.ErrMissingExecutable)}}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		_, err := r.RunOne(context.Background(), courseTask("CourseA"), ec)
		if !errors.Is(err, shared.ErrMissingExecutable) || !shared.IsFatal(err) {
			t.Fatalf("expected fatal error, got %v", err)
		}
		if !strings.Contains(err.Error(), "CourseA") || !strings.Contains(err.Error(), "orgx-C1-2024-CourseA-prod.csv") {
			t.Errorf("expected task and filename in error, got %v", err)
		}
		th.AssertFileMissing(t, filepath.Join(ec.WorkDir, "orgx-C1-2024-CourseA-prod.csv"+FailedSuffix))
	})

	t.Run("panic becomes failure", func(t *testing.T) {
		b := &recordingBackend{panics: map[string]bool{"CourseA": true}}
		r := newTestRunner(b, RunnerOpts{})

		a, err := r.RunOne(context.Background(), courseTask("CourseA"), baseContext(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !a.Failed() || !strings.Contains(a.Error, "backend exploded") {
			t.Errorf("expected failed artifact from panic, got %+v", a)
		}
	})

	t.Run("unparseable course falls back to raw id", func(t *testing.T) {
		b := &recordingBackend{}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)
		ec.Course = "Legacy Course"

		a, err := r.RunOne(context.Background(), courseTask("CourseA"), ec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(filepath.Base(a.Path), "Legacy_Course-CourseA-prod-") {
			t.Errorf("expected raw course stem, got %s", a.Path)
		}
	})

	t.Run("subdirectory is created", func(t *testing.T) {
		b := &recordingBackend{}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)
		d := courseTask("AssessmentTask")
		d.Subdirectory = "ora"

		a, err := r.RunOne(context.Background(), d, ec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		th.AssertDirExists(t, filepath.Join(ec.WorkDir, "ora"))
		if filepath.Dir(a.Path) != filepath.Join(ec.WorkDir, "ora") {
			t.Errorf("unexpected path %s", a.Path)
		}
	})

	t.Run("missing backend", func(t *testing.T) {
		r := NewTaskRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard)})
		_, err := r.RunOne(context.Background(), courseTask("CourseA"), baseContext(t))
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("filename limit too small", func(t *testing.T) {
		b := &recordingBackend{}
		r := newTestRunner(b, RunnerOpts{Resolver: naming.NewResolver(naming.WithMaxLength(10))})
		_, err := r.RunOne(context.Background(), courseTask("CourseA"), baseContext(t))
		if err == nil {
			t.Fatal("expected error")
		}
		if len(b.calls) != 0 {
			t.Error("backend should not run without a filename")
		}
	})
}

func TestRunTasks(t *testing.T) {
	t.Run("failure isolation", func(t *testing.T) {
		b := &recordingBackend{fail: map[string]error{"Second": errors.New("boom")}}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		got, err := r.RunTasks(context.Background(), []models.Descriptor{courseTask("First"), courseTask("Second"), courseTask("Third")}, ec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 artifacts, got %d", len(got))
		}
		wantStatus := []models.Status{models.StatusProduced, models.StatusFailed, models.StatusProduced}
		for i, a := range got {
			if a.Status != wantStatus[i] {
				t.Errorf("artifact %d: expected %s, got %s", i, wantStatus[i], a.Status)
			}
		}
		if !strings.HasSuffix(got[1].Path, FailedSuffix) {
			t.Errorf("expected placeholder path, got %s", got[1].Path)
		}
		if len(b.calls) != 3 || b.calls[2] != "Third" {
			t.Errorf("expected third task to run, calls %v", b.calls)
		}
	})

	t.Run("fatal abort", func(t *testing.T) {
		b := &recordingBackend{fail: map[string]error{"First": fmt.Errorf("%w: stop", shared.ErrFatal)}}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		got, err := r.RunTasks(context.Background(), []models.Descriptor{courseTask("First"), courseTask("Second"), courseTask("Third")}, ec)
		if !shared.IsFatal(err) {
			t.Fatalf("expected fatal error, got %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no artifacts, got %v", got)
		}
		if len(b.calls) != 1 {
			t.Errorf("expected later tasks to be skipped, calls %v", b.calls)
		}
		th.AssertFileMissing(t, filepath.Join(ec.WorkDir, "orgx-C1-2024-Second-prod.csv"))
		th.AssertFileMissing(t, filepath.Join(ec.WorkDir, "orgx-C1-2024-Third-prod.csv"))
	})

	t.Run("cancelled context stops the batch", func(t *testing.T) {
		b := &recordingBackend{}
		r := newTestRunner(b, RunnerOpts{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.RunTasks(ctx, []models.Descriptor{courseTask("First")}, baseContext(t))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(b.calls) != 0 {
			t.Errorf("expected no calls, got %v", b.calls)
		}
	})

	t.Run("tasks get private contexts", func(t *testing.T) {
		b := &recordingBackend{mutate: true}
		r := newTestRunner(b, RunnerOpts{})
		ec := baseContext(t)

		if _, err := r.RunTasks(context.Background(), []models.Descriptor{courseTask("First"), courseTask("Second")}, ec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := b.seen[1].Values["leaked"]; ok {
			t.Error("second task saw the first task's mutation")
		}
		if _, ok := ec.Values["leaked"]; ok {
			t.Error("caller context was mutated")
		}
		if ec.Courses[0] != "course-v1:orgx+C1+2024" {
			t.Error("caller course list was mutated")
		}
	})

	t.Run("progress updates", func(t *testing.T) {
		progress := make(chan ProgressUpdate, 10)
		b := &recordingBackend{fail: map[string]error{"Second": errors.New("boom")}}
		r := newTestRunner(b, RunnerOpts{Progress: progress})

		if _, err := r.RunTasks(context.Background(), []models.Descriptor{courseTask("First"), courseTask("Second")}, baseContext(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		close(progress)

		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
		}
		if len(phases) != 2 || phases[0] != TaskProduced || phases[1] != TaskFailed {
			t.Errorf("unexpected phases %v", phases)
		}
	})
}

func TestRetryCeiling(t *testing.T) {
	b := &recordingBackend{}
	r := newTestRunner(b, RunnerOpts{TaskTries: map[string]int{"secondtask": 4}})
	ec := baseContext(t)
	ec.MaxTries = 2

	first := orgTask("FirstTask")
	first.MaxTries = 3
	tasks := []models.Descriptor{first, orgTask("SecondTask"), orgTask("ThirdTask")}
	if _, err := r.RunTasks(context.Background(), tasks, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{3, 4, 2}
	for i, seen := range b.seen {
		if seen.MaxTries != want[i] {
			t.Errorf("task %d: expected %d tries, got %d", i, want[i], seen.MaxTries)
		}
	}
	if ec.MaxTries != 2 {
		t.Error("raising a task's retries changed the caller context")
	}
}

func TestParams(t *testing.T) {
	r := newTestRunner(&recordingBackend{}, RunnerOpts{})
	ec := baseContext(t)
	ec.Limit = 25

	p := r.Params(ec, "/tmp/out.csv")
	want := map[string]string{
		"filename":          "/tmp/out.csv",
		"organization":      "orgx",
		"course":            "course-v1:orgx+C1+2024",
		"slug":              "C1",
		"environment":       "prod",
		"name":              "prod",
		"all_organizations": "orgx OrgXAlias",
		"comma_sep_courses": "course-v1:orgx+C1+2024,course-v1:orgx+C2+2024",
		"limit":             "25",
		"sql_db":            "edxapp",
	}
	for k, v := range want {
		if p[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, p[k])
		}
	}
}

func TestValidate(t *testing.T) {
	registry := services.NewRegistry().
		Register(models.StructuredQuery, services.NewSQLBackend(nil)).
		Register(models.AdminCommand, services.NewAdminBackend())
	r := NewTaskRunner(RunnerOpts{Registry: registry, Logger: shared.NewLogger(io.Discard)})
	ec := baseContext(t)
	ec.Values = map[string]string{"sql_host": "db", "sql_user": "u", "sql_db": "edxapp"}

	good := orgTask("Good")
	good.Template = "SELECT * FROM {sql_db}.auth_user WHERE org = '{organization}'"
	bad := orgTask("Bad")
	bad.Template = "SELECT * FROM {missing_table}"
	admin := models.Descriptor{Name: "Admin", Scope: models.ScopeCourse, Backend: models.AdminCommand, Extension: "json", Command: "dump"}

	if err := r.Validate([]models.Descriptor{good}, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := r.Validate([]models.Descriptor{good, bad, admin}, ec)
	if !errors.Is(err, shared.ErrMissingParam) || !errors.Is(err, shared.ErrConfiguration) {
		t.Fatalf("expected missing parameter error, got %v", err)
	}
	for _, name := range []string{"Bad", "Admin", "missing_table", "django_admin"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected %q in %v", name, err)
		}
	}
}

type panicMeter struct{ noop.Meter }

func (panicMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return panicHistogram{}, nil
}

type panicHistogram struct{ noop.Float64Histogram }

func (panicHistogram) Record(context.Context, float64, ...metric.RecordOption) {
	panic("metrics backend unavailable")
}

type countingMeter struct {
	noop.Meter
	count *int
}

func (m countingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return countingHistogram{count: m.count}, nil
}

type countingHistogram struct {
	noop.Float64Histogram
	count *int
}

func (h countingHistogram) Record(context.Context, float64, ...metric.RecordOption) {
	*h.count++
}

func TestTaskTiming(t *testing.T) {
	t.Run("emission failure does not affect outcome", func(t *testing.T) {
		r := newTestRunner(&recordingBackend{}, RunnerOpts{Meter: panicMeter{}})
		a, err := r.RunOne(context.Background(), courseTask("CourseA"), baseContext(t))
		if err != nil || a.Failed() {
			t.Fatalf("expected success despite metrics failure, got %+v, %v", a, err)
		}
	})

	t.Run("recorded only with an organization", func(t *testing.T) {
		count := 0
		r := newTestRunner(&recordingBackend{}, RunnerOpts{Meter: countingMeter{count: &count}})

		ec := baseContext(t)
		if _, err := r.RunOne(context.Background(), courseTask("CourseA"), ec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ec.Organization = ""
		if _, err := r.RunOne(context.Background(), courseTask("CourseB"), ec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 1 {
			t.Errorf("expected one timing sample, got %d", count)
		}
	})
}
