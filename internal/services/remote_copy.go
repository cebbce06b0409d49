package services

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/storage"
)

const (
	// DefaultMarkerTries is the number of checks for the upstream success marker.
	DefaultMarkerTries = 5
	// DefaultCopyTries is the number of attempts to fetch the source file.
	DefaultCopyTries = 5

	markerKey = "job_success/_SUCCESS"
)

// StoreProvider hands out object stores by locator.
type StoreProvider interface {
	Get(ctx context.Context, raw string) (storage.ObjectStore, storage.Locator, error)
}

// RemoteCopyBackend copies a file produced by the upstream pipeline into the working directory.
//
// Files live under {external_prefix}/{environment}/ in the store named by pipeline_bucket.
// The run's success marker must exist before anything is copied. A missing marker aborts the whole export,
// while a missing source file is normal for empty tables and produces no file.
type RemoteCopyBackend struct {
	stores      StoreProvider
	MarkerTries int
	CopyTries   int
	BaseDelay   time.Duration
}

// NewRemoteCopyBackend creates a RemoteCopyBackend reading from stores.
func NewRemoteCopyBackend(stores StoreProvider) *RemoteCopyBackend {
	return &RemoteCopyBackend{stores: stores, MarkerTries: DefaultMarkerTries, CopyTries: DefaultCopyTries}
}

func (b *RemoteCopyBackend) Validate(task models.Descriptor, params map[string]string) error {
	if err := requireParams(params, "pipeline_bucket", "external_prefix"); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	return nil
}

// Keys returns the marker and source keys for inv.
func (b *RemoteCopyBackend) Keys(inv Invocation) (marker, source string) {
	dir := path.Join(inv.Params["external_prefix"], inv.Context.Environment)
	return path.Join(dir, markerKey), path.Join(dir, filepath.Base(inv.Filename))
}

func (b *RemoteCopyBackend) Run(ctx context.Context, inv Invocation) error {
	logger := loggerFor(inv)
	if err := requireParams(inv.Params, "pipeline_bucket", "external_prefix"); err != nil {
		return err
	}
	marker, source := b.Keys(inv)
	bucket := inv.Params["pipeline_bucket"]

	if inv.Context.DryRun {
		logger.Info("dry run: skipping remote copy", "source", source, "file", inv.Filename)
		return nil
	}

	store, loc, err := b.stores.Get(ctx, bucket)
	if err != nil {
		return fmt.Errorf("%w: cannot open %s: %w", shared.ErrFatal, bucket, err)
	}

	logger.Info("checking success marker", "marker", loc.URL(marker))
	err = shared.Retry(ctx, b.MarkerTries, b.BaseDelay, func(ctx context.Context) error {
		ok, err := store.Exists(ctx, marker)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("marker %s not present", marker)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Error("unable to find success marker", "marker", loc.URL(marker), "error", err)
		return fmt.Errorf("%w: %s", shared.ErrMarkerMissing, loc.URL(marker))
	}

	ok, err := store.Exists(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", loc.URL(source), err)
	}
	if !ok {
		logger.Info("source file not present, skipping", "source", loc.URL(source))
		return nil
	}

	tries := max(b.CopyTries, inv.Context.MaxTries)
	return shared.Retry(ctx, tries, b.BaseDelay, func(ctx context.Context) error {
		return store.Download(ctx, source, inv.Filename)
	})
}
