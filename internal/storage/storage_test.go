package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/exporter/internal/shared"
	th "github.com/desertthunder/exporter/internal/testing"
)

func TestParseLocator(t *testing.T) {
	tc := []struct {
		name    string
		raw     string
		want    Locator
		wantErr error
	}{
		{name: "s3 bucket", raw: "s3://exports", want: Locator{Scheme: "s3", Host: "exports"}},
		{name: "s3 with prefix", raw: "s3://exports/data/", want: Locator{Scheme: "s3", Host: "exports", Path: "data"}},
		{
			name: "sftp with credentials",
			raw:  "sftp://czar:pw@files.example.com:2222/incoming",
			want: Locator{Scheme: "sftp", User: "czar", Password: "pw", Host: "files.example.com:2222", Path: "incoming"},
		},
		{name: "file url", raw: "file:///var/exports/", want: Locator{Scheme: "file", Path: "/var/exports"}},
		{name: "bare path", raw: "./out", want: Locator{Scheme: "file", Path: "./out"}},
		{name: "unsupported scheme", raw: "gs://bucket", wantErr: shared.ErrUnsupportedStorage},
		{name: "missing bucket", raw: "s3:///path", wantErr: shared.ErrInvalidConfig},
		{name: "empty", raw: "", wantErr: shared.ErrInvalidConfig},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocator(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLocator() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLocatorURL(t *testing.T) {
	loc, _ := ParseLocator("s3://exports/data")
	if got := loc.URL("orgx-2024-01-01.zip"); got != "s3://exports/data/orgx-2024-01-01.zip" {
		t.Errorf("URL() = %s", got)
	}
	if got := loc.Key("exports", "prod", "job_success/_SUCCESS"); got != "data/exports/prod/job_success/_SUCCESS" {
		t.Errorf("Key() = %s", got)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	work := t.TempDir()

	store, loc, err := Open(ctx, "file://"+root, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if loc.Scheme != "file" {
		t.Errorf("expected file scheme, got %s", loc.Scheme)
	}

	src := filepath.Join(work, "a.csv")
	if err := os.WriteFile(src, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Upload(ctx, src, "nested/dir/a.csv"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	th.AssertFileExists(t, filepath.Join(root, "nested", "dir", "a.csv"))

	ok, err := store.Exists(ctx, "nested/dir/a.csv")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v", ok, err)
	}
	ok, err = store.Exists(ctx, "missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}

	dest := filepath.Join(work, "copy.csv")
	if err := store.Download(ctx, "nested/dir/a.csv", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if got := th.MustReadFile(t, dest); got != "id\n1\n" {
		t.Errorf("downloaded content = %q", got)
	}

	missing := filepath.Join(work, "missing.csv")
	if err := store.Download(ctx, "missing", missing); !errors.Is(err, shared.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("failed download should not leave a file behind")
	}
}

func TestUploader(t *testing.T) {
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "pkg.zip")
	if err := os.WriteFile(src, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	loc := Locator{Scheme: "s3", Host: "exports", Path: "pfx"}
	quiet := shared.NewLogger(io.Discard)

	t.Run("retries transient failures", func(t *testing.T) {
		store := th.NewMemStore()
		store.FailUploads = 2

		u := NewUploader(store, loc, UploaderOpts{MaxTries: 3, BaseDelay: time.Millisecond, Logger: quiet})
		target, err := u.Upload(ctx, src, "pkg.zip")
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if target != "s3://exports/pfx/pkg.zip" {
			t.Errorf("unexpected target %s", target)
		}
		if store.UploadCalls != 3 {
			t.Errorf("expected 3 attempts, got %d", store.UploadCalls)
		}
		if string(store.Objects["pkg.zip"]) != "zip" {
			t.Error("object was not stored")
		}
	})

	t.Run("exhausted retries are fatal", func(t *testing.T) {
		store := th.NewMemStore()
		store.FailUploads = 10

		u := NewUploader(store, loc, UploaderOpts{MaxTries: 2, BaseDelay: time.Millisecond, Logger: quiet})
		_, err := u.Upload(ctx, src, "pkg.zip")
		if !errors.Is(err, shared.ErrUploadFailed) || !shared.IsFatal(err) {
			t.Errorf("expected fatal ErrUploadFailed, got %v", err)
		}
		if store.UploadCalls != 2 {
			t.Errorf("expected 2 attempts, got %d", store.UploadCalls)
		}
	})

	t.Run("dry run does not upload", func(t *testing.T) {
		store := th.NewMemStore()
		u := NewUploader(store, loc, UploaderOpts{DryRun: true, Logger: quiet})
		if _, err := u.Upload(ctx, src, "pkg.zip"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if store.UploadCalls != 0 {
			t.Error("dry run should not touch the store")
		}
	})
}

func TestPaced(t *testing.T) {
	store := th.NewMemStore()
	store.Objects["k"] = []byte("v")

	paced := Paced(store, NewLimiter(1000))
	ok, err := paced.Exists(context.Background(), "k")
	if err != nil || !ok {
		t.Errorf("Exists() through limiter = %v, %v", ok, err)
	}

	if Paced(store, NewLimiter(0)) != ObjectStore(store) {
		t.Error("a zero rate should leave the store unwrapped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := Paced(store, NewLimiter(0.001))
	_, _ = slow.Exists(context.Background(), "k")
	if _, err := slow.Exists(ctx, "k"); err == nil {
		t.Error("expected cancelled context to stop the limiter wait")
	}
}
