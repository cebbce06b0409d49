// Package storage moves files between the local working directory and object stores.
//
// An [ObjectStore] is opened from a locator URL: s3://bucket/prefix, sftp://user@host:port/path or file:///path.
// Keys passed to a store are relative to the locator's path.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/exporter/internal/shared"
)

// ObjectStore is a remote location that holds exported files.
type ObjectStore interface {
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Download copies key into the local file dest. Missing keys return [shared.ErrObjectNotFound].
	Download(ctx context.Context, key, dest string) error
	// Upload copies the local file src to key.
	Upload(ctx context.Context, src, key string) error
	Close() error
}

// Options holds transport settings for [Open].
type Options struct {
	Region         string
	Endpoint       string // custom S3 endpoint, enables path-style addressing
	SSHKeyPath     string
	KnownHostsPath string
	Timeout        time.Duration
}

// Locator is a parsed object store URL.
type Locator struct {
	Scheme   string
	User     string
	Password string
	Host     string // bucket for s3, host[:port] for sftp
	Path     string // root prefix without leading or trailing slashes
}

// ParseLocator parses raw into a Locator. A bare path is treated as file://.
func ParseLocator(raw string) (Locator, error) {
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty storage locator", shared.ErrInvalidConfig)
	}
	if !strings.Contains(raw, "://") {
		return Locator{Scheme: "file", Path: strings.TrimRight(raw, "/")}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: invalid storage locator %q: %w", shared.ErrInvalidConfig, raw, err)
	}

	loc := Locator{Scheme: strings.ToLower(u.Scheme), Host: u.Host}
	if u.User != nil {
		loc.User = u.User.Username()
		loc.Password, _ = u.User.Password()
	}

	switch loc.Scheme {
	case "file":
		loc.Path = strings.TrimRight(u.Host+u.Path, "/")
	case "s3", "sftp":
		if loc.Host == "" {
			return Locator{}, fmt.Errorf("%w: locator %q has no host", shared.ErrInvalidConfig, raw)
		}
		loc.Path = strings.Trim(u.Path, "/")
	default:
		return Locator{}, fmt.Errorf("%w: %q", shared.ErrUnsupportedStorage, loc.Scheme)
	}
	return loc, nil
}

// Key joins the locator path with parts.
func (l Locator) Key(parts ...string) string {
	all := append([]string{l.Path}, parts...)
	return strings.TrimPrefix(path.Join(all...), "/")
}

// URL renders key under this locator for logs and results.
func (l Locator) URL(key string) string {
	switch l.Scheme {
	case "file":
		return "file://" + path.Join(l.Path, key)
	default:
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Host, strings.TrimPrefix(l.Key(key), "/"))
	}
}

// Open connects to the store named by raw.
func Open(ctx context.Context, raw string, opts Options) (ObjectStore, Locator, error) {
	loc, err := ParseLocator(raw)
	if err != nil {
		return nil, Locator{}, err
	}

	var store ObjectStore
	switch loc.Scheme {
	case "s3":
		store, err = NewS3Store(ctx, loc, opts)
	case "sftp":
		store, err = NewSFTPStore(ctx, loc, opts)
	default:
		store, err = NewFileStore(loc.Path)
	}
	if err != nil {
		return nil, Locator{}, err
	}
	return store, loc, nil
}

// Paced wraps store so that every call waits for limiter.
func Paced(store ObjectStore, limiter *rate.Limiter) ObjectStore {
	if limiter == nil {
		return store
	}
	return &pacedStore{inner: store, limiter: limiter}
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

type pacedStore struct {
	inner   ObjectStore
	limiter *rate.Limiter
}

func (p *pacedStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return p.inner.Exists(ctx, key)
}

func (p *pacedStore) Download(ctx context.Context, key, dest string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.inner.Download(ctx, key, dest)
}

func (p *pacedStore) Upload(ctx context.Context, src, key string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.inner.Upload(ctx, src, key)
}

func (p *pacedStore) Close() error {
	return p.inner.Close()
}
