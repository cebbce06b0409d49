package shared

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultRetryDelay is the first backoff interval between attempts.
const DefaultRetryDelay = 2 * time.Second

// Retry calls fn up to tries times with exponential backoff starting at base.
//
// Fatal errors (see [IsFatal]) stop immediately. A non-positive tries runs fn once.
func Retry(ctx context.Context, tries int, base time.Duration, fn func(ctx context.Context) error) error {
	if tries < 1 {
		tries = 1
	}
	if base <= 0 {
		base = DefaultRetryDelay
	}

	backoff := retry.WithMaxRetries(uint64(tries-1), retry.NewExponential(base)) // #nosec G115 -- tries >= 1
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if IsFatal(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
