package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/shared"
)

// DefaultUploadTries is the number of attempts for a single upload.
const DefaultUploadTries = 5

// UploaderOpts configures an [Uploader].
type UploaderOpts struct {
	MaxTries  int
	BaseDelay time.Duration
	DryRun    bool
	Logger    *log.Logger
}

// Uploader sends finished packages to their destination with bounded retries.
type Uploader struct {
	store  ObjectStore
	loc    Locator
	opts   UploaderOpts
	logger *log.Logger
}

// NewUploader creates an Uploader writing into store at loc.
func NewUploader(store ObjectStore, loc Locator, opts UploaderOpts) *Uploader {
	if opts.MaxTries <= 0 {
		opts.MaxTries = DefaultUploadTries
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Uploader{store: store, loc: loc, opts: opts, logger: logger}
}

// Upload copies src to key and returns the destination URL.
//
// Exhausting the retry budget returns an error wrapping [shared.ErrUploadFailed].
func (u *Uploader) Upload(ctx context.Context, src, key string) (string, error) {
	target := u.loc.URL(key)
	if u.opts.DryRun {
		u.logger.Info("dry run: skipping upload", "file", src, "target", target)
		return target, nil
	}

	u.logger.Info("uploading file", "file", src, "target", target)
	attempt := 0
	err := shared.Retry(ctx, u.opts.MaxTries, u.opts.BaseDelay, func(ctx context.Context) error {
		attempt++
		if err := u.store.Upload(ctx, src, key); err != nil {
			u.logger.Warn("upload attempt failed", "file", src, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s -> %s: %w", shared.ErrUploadFailed, src, target, err)
	}
	return target, nil
}
