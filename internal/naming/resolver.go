package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

const (
	// DefaultMaxLength is the filename length limit of common filesystems.
	DefaultMaxLength = 255
	// DefaultPlaceholder replaces characters outside the safe set.
	DefaultPlaceholder = '_'

	digestLength = 12
)

// SafeName replaces every rune outside [A-Za-z0-9_.-] with placeholder.
func SafeName(s string, placeholder rune) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(placeholder)
		}
	}
	return b.String()
}

func isSafe(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '.' || r == '-'
}

// Resolver computes artifact paths.
type Resolver struct {
	maxLength   int
	placeholder rune
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithMaxLength sets the filename length ceiling in bytes. Non-positive values keep the default.
func WithMaxLength(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxLength = n
		}
	}
}

// WithPlaceholder sets the replacement for unsafe characters. Unsafe placeholders are ignored.
func WithPlaceholder(p rune) Option {
	return func(r *Resolver) {
		if isSafe(p) {
			r.placeholder = p
		}
	}
}

// NewResolver creates a Resolver with [DefaultMaxLength] and [DefaultPlaceholder] unless overridden.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{maxLength: DefaultMaxLength, placeholder: DefaultPlaceholder}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxLength returns the filename length ceiling.
func (r *Resolver) MaxLength() int {
	return r.maxLength
}

// Resolve returns the artifact path for desc in ec, creating its subdirectory if needed.
//
// Returns [shared.ErrInvalidScope] when the organization is missing or the course identifier cannot be parsed;
// callers can fall back to [Resolver.ResolveRaw].
func (r *Resolver) Resolve(desc models.Descriptor, ec models.ExecContext) (string, error) {
	return r.resolve(desc, ec, false)
}

// ResolveRaw is like Resolve but uses the course identifier verbatim as the scope stem.
func (r *Resolver) ResolveRaw(desc models.Descriptor, ec models.ExecContext) (string, error) {
	return r.resolve(desc, ec, true)
}

func (r *Resolver) resolve(desc models.Descriptor, ec models.ExecContext, raw bool) (string, error) {
	scope, err := scopeStem(desc, ec, raw)
	if err != nil {
		return "", err
	}

	var parts []string
	switch desc.Naming {
	case models.NamingByEnvironment:
		parts = []string{scope, ec.Environment}
	default:
		parts = []string{scope, desc.FileSegment()}
		if ec.Name != "" {
			parts = append(parts, ec.Name)
		}
	}

	filename, err := r.Filename(strings.Join(parts, "-"), desc.Extension)
	if err != nil {
		return "", err
	}

	dir := ec.WorkDir
	if desc.Subdirectory != "" {
		dir = filepath.Join(dir, SafeName(desc.Subdirectory, r.placeholder))
		if err := EnsureDir(dir); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, filename), nil
}

func scopeStem(desc models.Descriptor, ec models.ExecContext, raw bool) (string, error) {
	if desc.Scope == models.ScopeOrganization {
		if ec.Organization == "" {
			return "", fmt.Errorf("%w: task %s needs an organization", shared.ErrInvalidScope, desc.Name)
		}
		return ec.Organization, nil
	}

	if ec.Course == "" {
		return "", fmt.Errorf("%w: task %s needs a course", shared.ErrInvalidScope, desc.Name)
	}
	if raw {
		return ec.Course, nil
	}
	key, err := ParseCourseKey(ec.Course)
	if err != nil {
		return "", err
	}
	return key.Stem(), nil
}

// Filename sanitizes stem and appends ext, keeping the result within the length ceiling.
//
// A digest of the original stem is appended whenever sanitizing changed the stem or the stem had to be truncated.
func (r *Resolver) Filename(stem, ext string) (string, error) {
	suffix := ""
	if ext != "" {
		suffix = "." + SafeName(ext, r.placeholder)
	}

	safe := SafeName(stem, r.placeholder)
	if safe == stem && len(safe)+len(suffix) <= r.maxLength {
		return safe + suffix, nil
	}

	token := "-" + digest(stem)
	room := r.maxLength - len(token) - len(suffix)
	if room < 1 {
		return "", fmt.Errorf("%w: filename limit %d too small for extension %q", shared.ErrInvalidConfig, r.maxLength, ext)
	}
	if len(safe) > room {
		safe = safe[:room]
	}
	return safe + token + suffix, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:digestLength]
}

// EnsureDir creates path and its parents. An existing directory is not an error.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", path)
	}
	return nil
}
