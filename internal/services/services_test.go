package services

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/storage"
	th "github.com/desertthunder/exporter/internal/testing"
)

func TestRegistry(t *testing.T) {
	t.Run("missing backend", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Lookup(models.StructuredQuery); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("dispatches by kind", func(t *testing.T) {
		called := ""
		r := NewRegistry().
			Register(models.StructuredQuery, BackendFunc(func(ctx context.Context, inv Invocation) error {
				called = inv.Task.Name
				return nil
			}))

		b, err := r.Lookup(models.StructuredQuery)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := b.Run(context.Background(), Invocation{Task: models.Descriptor{Name: "UserIDMapTask"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != "UserIDMapTask" {
			t.Errorf("expected backend to receive task, got %q", called)
		}
	})

	t.Run("validate without validator", func(t *testing.T) {
		r := NewRegistry().Register(models.AdminCommand, BackendFunc(func(context.Context, Invocation) error { return nil }))
		if err := r.Validate(models.Descriptor{Name: "x", Backend: models.AdminCommand}, nil); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	th.PrependPath(t, dir)

	t.Run("writes stdout to output", func(t *testing.T) {
		th.StubExecutable(t, dir, "say-hello", `echo "hello $1"`)
		out := filepath.Join(dir, "hello.txt")

		err := Execute(context.Background(), Command{Name: "say-hello", Args: []string{"world"}, OutputPath: out})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := th.MustReadFile(t, out); got != "hello world\n" {
			t.Errorf("unexpected output %q", got)
		}
	})

	t.Run("passes extra environment", func(t *testing.T) {
		th.StubExecutable(t, dir, "print-variant", `echo "$SERVICE_VARIANT"`)
		out := filepath.Join(dir, "variant.txt")

		err := Execute(context.Background(), Command{Name: "print-variant", Env: []string{"SERVICE_VARIANT=cms"}, OutputPath: out})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.TrimSpace(th.MustReadFile(t, out)); got != "cms" {
			t.Errorf("expected cms, got %q", got)
		}
	})

	t.Run("failure keeps stderr", func(t *testing.T) {
		th.StubExecutable(t, dir, "always-fails", `echo "table missing" >&2; exit 3`)

		err := Execute(context.Background(), Command{Name: "always-fails", BaseDelay: time.Millisecond})
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("expected ExitError, got %v", err)
		}
		if exitErr.Stderr != "table missing" {
			t.Errorf("unexpected stderr %q", exitErr.Stderr)
		}
		if shared.IsFatal(err) {
			t.Error("command failure should not be fatal")
		}
	})

	t.Run("retries until success", func(t *testing.T) {
		counter := filepath.Join(dir, "count")
		th.StubExecutable(t, dir, "flaky", `
echo x >> "`+counter+`"
[ $(wc -l < "`+counter+`") -ge 3 ]`)

		err := Execute(context.Background(), Command{Name: "flaky", MaxTries: 3, BaseDelay: time.Millisecond})
		if err != nil {
			t.Fatalf("expected success on third try, got %v", err)
		}
		if n := strings.Count(th.MustReadFile(t, counter), "x"); n != 3 {
			t.Errorf("expected 3 attempts, got %d", n)
		}
	})

	t.Run("missing executable is fatal", func(t *testing.T) {
		err := Execute(context.Background(), Command{Name: "definitely-not-installed-anywhere"})
		if !errors.Is(err, shared.ErrMissingExecutable) {
			t.Errorf("expected ErrMissingExecutable, got %v", err)
		}
		if !shared.IsFatal(err) {
			t.Error("missing executable should be fatal")
		}
	})
}

func adminParams() map[string]string {
	return map[string]string{
		"django_user":         "www-data",
		"django_admin":        "/edx/bin/django-admin",
		"django_config":       "/edx/etc",
		"django_settings":     "production",
		"django_cms_settings": "cms_production",
		"django_pythonpath":   "/edx/app",
		"course":              "course-v1:orgx+C1+2024",
		"filename":            "/tmp/out.json",
		"all_organizations":   "orgx",
		"comma_sep_courses":   "a,b",
	}
}

func TestBuildAdminCommand(t *testing.T) {
	t.Run("sudo with redirect", func(t *testing.T) {
		cmd, err := BuildAdminCommand(AdminSpec{
			Command: "dump_course_structure",
			Args:    "{course}",
			Output:  "{filename}",
			Vars:    "CONFIG_ROOT={django_config} SERVICE_VARIANT=lms",
		}, adminParams())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{
			"-E", "-u", "www-data", "CONFIG_ROOT=/edx/etc", "SERVICE_VARIANT=lms",
			"/edx/bin/django-admin", "dump_course_structure", "--settings=production", "--pythonpath=/edx/app",
			"course-v1:orgx+C1+2024",
		}
		if cmd.Name != "sudo" || !slices.Equal(cmd.Args, want) {
			t.Errorf("unexpected command %s", cmd)
		}
		if cmd.OutputPath != "/tmp/out.json" {
			t.Errorf("expected stdout redirect, got %q", cmd.OutputPath)
		}
	})

	t.Run("settings key override", func(t *testing.T) {
		cmd, err := BuildAdminCommand(AdminSpec{Command: "export_olx", Args: "{course}", SettingsKey: "django_cms_settings"}, adminParams())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Contains(cmd.Args, "--settings=cms_production") {
			t.Errorf("expected cms settings, got %v", cmd.Args)
		}
	})

	t.Run("output as argument precedes args", func(t *testing.T) {
		params := adminParams()
		params["django_user"] = ""
		cmd, err := BuildAdminCommand(AdminSpec{
			Command:     "email_opt_in_list",
			Args:        "{all_organizations} --courses={comma_sep_courses}",
			Output:      "{filename}",
			Vars:        "SERVICE_VARIANT=lms",
			OutputAsArg: true,
		}, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"email_opt_in_list", "--settings=production", "--pythonpath=/edx/app", "/tmp/out.json", "orgx", "--courses=a,b"}
		if cmd.Name != "/edx/bin/django-admin" || !slices.Equal(cmd.Args, want) {
			t.Errorf("unexpected command %s", cmd)
		}
		if cmd.OutputPath != "" {
			t.Errorf("expected no redirect, got %q", cmd.OutputPath)
		}
		if !slices.Equal(cmd.Env, []string{"SERVICE_VARIANT=lms"}) {
			t.Errorf("expected vars in environment, got %v", cmd.Env)
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		params := adminParams()
		delete(params, "django_admin")
		_, err := BuildAdminCommand(AdminSpec{Command: "dump_course_ids"}, params)
		if !errors.Is(err, shared.ErrMissingParam) {
			t.Errorf("expected ErrMissingParam, got %v", err)
		}
	})
}

func TestAdminBackend(t *testing.T) {
	dir := t.TempDir()
	admin := th.StubExecutable(t, dir, "django-admin", `echo "$SERVICE_VARIANT $*"`)

	params := adminParams()
	params["django_user"] = ""
	params["django_admin"] = admin
	params["filename"] = filepath.Join(dir, "structure.json")

	task := models.Descriptor{
		Name:    "CourseStructureTask",
		Backend: models.AdminCommand,
		Command: "dump_course_structure",
		Args:    "{course}",
		Output:  "{filename}",
		Vars:    "SERVICE_VARIANT=lms",
	}

	b := NewAdminBackend()
	if err := b.Validate(task, params); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	err := b.Run(context.Background(), Invocation{Task: task, Filename: params["filename"], Params: params})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := th.MustReadFile(t, params["filename"])
	if !strings.HasPrefix(got, "lms dump_course_structure --settings=production") {
		t.Errorf("unexpected output %q", got)
	}
	if !strings.Contains(got, "course-v1:orgx+C1+2024") {
		t.Errorf("expected course argument in %q", got)
	}
}

func TestMongoBackendCommand(t *testing.T) {
	params := map[string]string{
		"mongo_host":       "forum.internal",
		"mongo_db":         "comments",
		"mongo_user":       "reader",
		"mongo_password":   "secret",
		"mongo_collection": "contents",
		"course":           "course-v1:orgx+C1+2024",
	}
	task := models.Descriptor{Name: "ForumsTask", Backend: models.DocumentQuery, Template: `{{"course_id": "{course}"}}`}
	b := NewMongoBackend("")

	t.Run("default read preference", func(t *testing.T) {
		cmd, err := b.Command(Invocation{Task: task, Filename: "/tmp/f.mongo", Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cmd.Name != "mongoexport" {
			t.Errorf("unexpected executable %q", cmd.Name)
		}
		i := slices.Index(cmd.Args, "--query")
		if i < 0 || cmd.Args[i+1] != `{"course_id": "course-v1:orgx+C1+2024"}` {
			t.Errorf("unexpected query args %v", cmd.Args)
		}
		if !slices.Contains(cmd.Args, "--slaveOk") {
			t.Errorf("expected --slaveOk in %v", cmd.Args)
		}
		if cmd.Args[len(cmd.Args)-1] != "/tmp/f.mongo" {
			t.Errorf("expected output path last, got %v", cmd.Args)
		}
	})

	t.Run("explicit read preference", func(t *testing.T) {
		p := map[string]string{"mongo_read_preference": "secondary"}
		for k, v := range params {
			p[k] = v
		}
		cmd, err := b.Command(Invocation{Task: task, Filename: "/tmp/f.mongo", Params: p})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if slices.Contains(cmd.Args, "--slaveOk") || !slices.Contains(cmd.Args, "secondary") {
			t.Errorf("unexpected read preference args %v", cmd.Args)
		}
	})

	t.Run("missing connection values", func(t *testing.T) {
		if err := b.Validate(task, map[string]string{"course": "c"}); !errors.Is(err, shared.ErrMissingParam) {
			t.Errorf("expected ErrMissingParam, got %v", err)
		}
	})
}

func TestSQLBackend(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "edxapp.db")

	db, err := shared.NewDatabase("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE auth_user (id INTEGER, username TEXT, course_id TEXT)",
		"INSERT INTO auth_user VALUES (1, 'ada', 'c1'), (2, 'grace', 'c1'), (3, 'linus', 'c2')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed database: %v", err)
		}
	}
	db.Close()

	task := models.Descriptor{
		Name:     "AuthUserTask",
		Backend:  models.StructuredQuery,
		Template: "SELECT id, username FROM auth_user\nWHERE course_id = '{course}'\nORDER BY id",
	}
	params := map[string]string{"sql_driver": "sqlite3", "sql_dsn": dsn, "course": "c1"}

	b := NewSQLBackend(nil)
	t.Cleanup(func() { b.Close() })

	t.Run("writes rows", func(t *testing.T) {
		out := filepath.Join(dir, "auth_user.sql")
		err := b.Run(context.Background(), Invocation{Task: task, Filename: out, Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "id\tusername\n1\tada\n2\tgrace\n"
		if got := th.MustReadFile(t, out); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("applies limit", func(t *testing.T) {
		out := filepath.Join(dir, "limited.sql")
		ec := models.ExecContext{Limit: 1}
		if err := b.Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := th.MustReadFile(t, out); got != "id\tusername\n1\tada\n" {
			t.Errorf("unexpected limited output %q", got)
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		out := filepath.Join(dir, "dry.sql")
		ec := models.ExecContext{DryRun: true}
		if err := b.Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		th.AssertFileMissing(t, out)
	})

	t.Run("query error", func(t *testing.T) {
		bad := task
		bad.Template = "SELECT nope FROM missing_table"
		err := b.Run(context.Background(), Invocation{Task: bad, Filename: filepath.Join(dir, "bad.sql"), Params: params})
		if err == nil || shared.IsFatal(err) {
			t.Errorf("expected recoverable error, got %v", err)
		}
	})

	t.Run("query text", func(t *testing.T) {
		q, err := b.Query(task, models.ExecContext{Limit: 5}, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "SELECT id, username FROM auth_user WHERE course_id = 'c1' ORDER BY id limit 5"
		if q != want {
			t.Errorf("expected %q, got %q", want, q)
		}
	})
}

type memProvider struct {
	store *th.MemStore
	err   error
}

func (p memProvider) Get(context.Context, string) (storage.ObjectStore, storage.Locator, error) {
	if p.err != nil {
		return nil, storage.Locator{}, p.err
	}
	return p.store, storage.Locator{Scheme: "s3", Host: "analytics-pipeline"}, nil
}

func TestRemoteCopyBackend(t *testing.T) {
	params := map[string]string{"pipeline_bucket": "s3://analytics-pipeline", "external_prefix": "exports"}
	task := models.Descriptor{Name: "StudentModuleTask", Backend: models.RemoteCopy}
	ec := models.ExecContext{Environment: "prod"}

	newBackend := func(p StoreProvider) *RemoteCopyBackend {
		b := NewRemoteCopyBackend(p)
		b.BaseDelay = time.Millisecond
		return b
	}

	t.Run("copies source file", func(t *testing.T) {
		store := th.NewMemStore()
		store.Objects["exports/prod/job_success/_SUCCESS"] = nil
		store.Objects["exports/prod/orgx-C1-courseware_studentmodule-prod.sql"] = []byte("rows")

		out := filepath.Join(t.TempDir(), "orgx-C1-courseware_studentmodule-prod.sql")
		err := newBackend(memProvider{store: store}).Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := th.MustReadFile(t, out); got != "rows" {
			t.Errorf("unexpected content %q", got)
		}
	})

	t.Run("missing source produces no file", func(t *testing.T) {
		store := th.NewMemStore()
		store.Objects["exports/prod/job_success/_SUCCESS"] = nil

		out := filepath.Join(t.TempDir(), "empty-table.sql")
		err := newBackend(memProvider{store: store}).Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		th.AssertFileMissing(t, out)
	})

	t.Run("missing marker is fatal after retries", func(t *testing.T) {
		store := th.NewMemStore()
		out := filepath.Join(t.TempDir(), "x.sql")
		err := newBackend(memProvider{store: store}).Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params})
		if !errors.Is(err, shared.ErrMarkerMissing) || !shared.IsFatal(err) {
			t.Fatalf("expected fatal ErrMarkerMissing, got %v", err)
		}
		if store.ExistsCalls != DefaultMarkerTries {
			t.Errorf("expected %d marker checks, got %d", DefaultMarkerTries, store.ExistsCalls)
		}
	})

	t.Run("marker found after transient failures", func(t *testing.T) {
		store := th.NewMemStore()
		store.FailExists = 2
		store.Objects["exports/prod/job_success/_SUCCESS"] = nil
		out := filepath.Join(t.TempDir(), "x.sql")
		err := newBackend(memProvider{store: store}).Run(context.Background(), Invocation{Task: task, Filename: out, Context: ec, Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unreachable store is fatal", func(t *testing.T) {
		b := newBackend(memProvider{err: errors.New("no credentials")})
		err := b.Run(context.Background(), Invocation{Task: task, Filename: "x.sql", Context: ec, Params: params})
		if !shared.IsFatal(err) {
			t.Errorf("expected fatal error, got %v", err)
		}
	})
}

func TestPoolSharesStores(t *testing.T) {
	opened := 0
	store := th.NewMemStore()
	pool := storage.NewPoolWith(func(ctx context.Context, raw string, opts storage.Options) (storage.ObjectStore, storage.Locator, error) {
		opened++
		return store, storage.Locator{Scheme: "file", Path: raw}, nil
	}, storage.Options{}, 0)
	t.Cleanup(func() { pool.Close() })

	b := NewRemoteCopyBackend(pool)
	for range 2 {
		if _, _, err := b.stores.Get(context.Background(), "s3://analytics-pipeline"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Errorf("expected one open, got %d", opened)
	}
}
