package shared

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Fatal errors abort the current batch and are never turned into placeholder files.
	ErrFatal             = fmt.Errorf("fatal error")
	ErrMissingExecutable = fmt.Errorf("%w: required executable not found", ErrFatal)
	ErrMarkerMissing     = fmt.Errorf("%w: success marker not found", ErrFatal)
	ErrCourseListing     = fmt.Errorf("%w: course listing failed", ErrFatal)
	ErrCourseNotFound    = fmt.Errorf("%w: course not found in any environment", ErrFatal)
	ErrUploadFailed      = fmt.Errorf("%w: upload failed", ErrFatal)
	ErrPackaging         = fmt.Errorf("%w: packaging failed", ErrFatal)

	// Task failures are recovered at the runner boundary.
	ErrTaskFailed = fmt.Errorf("task failed")

	// Configuration errors surface before any task runs.
	ErrConfiguration = fmt.Errorf("configuration error")
	ErrMissingConfig = fmt.Errorf("%w: configuration not found", ErrConfiguration)
	ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", ErrConfiguration)
	ErrMissingParam  = fmt.Errorf("%w: missing template parameter", ErrConfiguration)
	ErrUnknownTask   = fmt.Errorf("%w: unknown task", ErrConfiguration)

	// Scope errors
	ErrInvalidScope = fmt.Errorf("invalid scope identifier")

	// Storage errors
	ErrObjectNotFound     = fmt.Errorf("object not found")
	ErrUnsupportedStorage = fmt.Errorf("%w: unsupported storage locator", ErrConfiguration)

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)

// IsFatal reports whether err must abort the batch: any [ErrFatal] chain and context cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrFatal) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
