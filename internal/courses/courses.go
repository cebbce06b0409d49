// Package courses resolves which courses an organization has in an environment.
//
// Listing shells out to the platform's course id dump through a [Lister]. A [MemoLister] keeps the result
// for each distinct parameter set so that repeated lookups during one run do not re-invoke the command.
package courses

import (
	"bufio"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/desertthunder/exporter/internal/naming"
	"github.com/desertthunder/exporter/internal/services"
	"github.com/desertthunder/exporter/internal/shared"
)

const (
	// DefaultCacheSize bounds the number of memoized listings.
	DefaultCacheSize = 64

	listCommand         = "dump_course_ids"
	filteredListCommand = "dump_course_ids_with_filter"
	listVars            = "CONFIG_ROOT={django_config} SERVICE_VARIANT=lms"
)

// Params are the values that determine a course listing.
type Params map[string]string

// extraKeys are listing parameters that do not carry the django prefix.
var extraKeys = []string{"lms_config", "studio_config", "time_constraint"}

// ParamsFrom keeps the values relevant to listing: every django* key plus lms_config, studio_config and
// time_constraint.
func ParamsFrom(values map[string]string) Params {
	p := Params{}
	for k, v := range values {
		if strings.HasPrefix(k, "django") || slices.Contains(extraKeys, k) {
			p[k] = v
		}
	}
	return p
}

// Key is a canonical form of p used for memoization.
func (p Params) Key() string {
	keys := slices.Sorted(maps.Keys(p))
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
		b.WriteByte(0)
	}
	return b.String()
}

// EndDate returns the earliest course end date to keep, or "" when no time constraint is set.
func (p Params) EndDate(now time.Time) (string, error) {
	raw, ok := p["time_constraint"]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", nil
	}
	years, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: time constraint %q is not a valid integer", shared.ErrInvalidConfig, raw)
	}
	if years <= 0 {
		return "", nil
	}
	return now.AddDate(0, 0, -365*years).Format(time.DateOnly), nil
}

// Lister returns every course id known to an environment.
type Lister interface {
	List(ctx context.Context, p Params) ([]string, error)
}

// ListerFunc adapts a function to [Lister].
type ListerFunc func(ctx context.Context, p Params) ([]string, error)

func (f ListerFunc) List(ctx context.Context, p Params) ([]string, error) {
	return f(ctx, p)
}

// AdminLister lists courses with the platform administration command.
type AdminLister struct {
	WorkDir string // temporary listing files are created here, "" uses the system default
	Logger  *log.Logger
	Now     func() time.Time
}

// List runs the listing command and returns the non-empty lines of its output.
//
// With a time constraint the filtered command is used, keeping courses that end on or after the cutoff.
func (l *AdminLister) List(ctx context.Context, p Params) ([]string, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	end, err := p.EndDate(now())
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(l.WorkDir, "courses-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create listing file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	params := maps.Clone(map[string]string(p))
	params["filename"] = name

	spec := services.AdminSpec{Command: listCommand, Output: "{filename}", Vars: listVars}
	if end != "" {
		spec.Command = filteredListCommand
		spec.Args = "--end {end}"
		params["end"] = end
		if l.Logger != nil {
			l.Logger.Info("limiting courses by end date", "end", end)
		}
	}

	cmd, err := services.BuildAdminCommand(spec, params)
	if err != nil {
		return nil, err
	}
	cmd.Logger = l.Logger
	if err := services.Execute(ctx, cmd); err != nil {
		return nil, err
	}
	return readLines(name)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// MemoLister caches the listings of an inner [Lister] by parameter set. Failed listings are not cached.
type MemoLister struct {
	inner Lister
	cache *lru.Cache[string, []string]
}

// NewMemoLister wraps inner with an LRU cache holding size listings.
func NewMemoLister(inner Lister, size int) (*MemoLister, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &MemoLister{inner: inner, cache: cache}, nil
}

func (m *MemoLister) List(ctx context.Context, p Params) ([]string, error) {
	key := p.Key()
	if courses, ok := m.cache.Get(key); ok {
		return slices.Clone(courses), nil
	}
	courses, err := m.inner.List(ctx, p)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, slices.Clone(courses))
	return courses, nil
}

// FilterByOrganization keeps the courses whose key organization matches one of names, ignoring case.
// Ids that do not parse as course keys are dropped.
func FilterByOrganization(courses []string, names ...string) []string {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}

	var out []string
	for _, c := range courses {
		key, err := naming.ParseCourseKey(c)
		if err != nil {
			continue
		}
		if wanted[strings.ToLower(key.Org)] {
			out = append(out, c)
		}
	}
	return out
}

// OrgCourses selects the courses of org.
//
// Requested courses are intersected with the listing when both are present; otherwise the listing is used, or
// the request when nothing was listed. The result is filtered to org and its other names, sorted and deduplicated.
func OrgCourses(requested, all []string, org string, otherNames []string) []string {
	courses := requested
	switch {
	case len(requested) > 0 && len(all) > 0:
		listed := make(map[string]bool, len(all))
		for _, c := range all {
			listed[c] = true
		}
		courses = nil
		for _, c := range requested {
			if listed[c] {
				courses = append(courses, c)
			}
		}
	case len(all) > 0:
		courses = all
	}

	names := append([]string{org}, otherNames...)
	courses = FilterByOrganization(courses, names...)
	slices.Sort(courses)
	return slices.Compact(courses)
}
