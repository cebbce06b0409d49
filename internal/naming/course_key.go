package naming

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/desertthunder/exporter/internal/shared"
)

const (
	courseKeyPrefix = "course-v1:"
	ccxKeyPrefix    = "ccx-v1:"
)

// CourseKey is the structured form of a course identifier.
type CourseKey struct {
	Org    string
	Course string
	Run    string
	CCX    string // custom course id, empty for regular courses
}

// ParseCourseKey parses "course-v1:org+course+run", "ccx-v1:org+course+run+ccx@N" and the older "org/course/run" form.
func ParseCourseKey(id string) (CourseKey, error) {
	switch {
	case strings.HasPrefix(id, courseKeyPrefix):
		return parseOpaqueKey(id, strings.TrimPrefix(id, courseKeyPrefix), false)
	case strings.HasPrefix(id, ccxKeyPrefix):
		return parseOpaqueKey(id, strings.TrimPrefix(id, ccxKeyPrefix), true)
	case strings.Count(id, "/") == 2:
		parts := strings.Split(id, "/")
		key := CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}
		if err := key.validate(); err != nil {
			return CourseKey{}, fmt.Errorf("%w: %q: %w", shared.ErrInvalidScope, id, err)
		}
		return key, nil
	default:
		return CourseKey{}, fmt.Errorf("%w: unrecognized course key %q", shared.ErrInvalidScope, id)
	}
}

func parseOpaqueKey(id, body string, ccx bool) (CourseKey, error) {
	var key CourseKey
	var plain []string
	for _, part := range strings.Split(body, "+") {
		tag, value, tagged := strings.Cut(part, "@")
		if !tagged {
			plain = append(plain, part)
			continue
		}
		if tag == "ccx" {
			key.CCX = value
		}
	}

	if len(plain) != 3 {
		return CourseKey{}, fmt.Errorf("%w: %q: expected org+course+run", shared.ErrInvalidScope, id)
	}
	key.Org, key.Course, key.Run = plain[0], plain[1], plain[2]

	if ccx && key.CCX == "" {
		return CourseKey{}, fmt.Errorf("%w: %q: missing ccx id", shared.ErrInvalidScope, id)
	}
	if !ccx && key.CCX != "" {
		return CourseKey{}, fmt.Errorf("%w: %q: ccx id on a regular course key", shared.ErrInvalidScope, id)
	}
	if err := key.validate(); err != nil {
		return CourseKey{}, fmt.Errorf("%w: %q: %w", shared.ErrInvalidScope, id, err)
	}
	return key, nil
}

func (k CourseKey) validate() error {
	fields := []struct{ name, value string }{{"org", k.Org}, {"course", k.Course}, {"run", k.Run}}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("empty %s", f.name)
		}
		if strings.IndexFunc(f.value, unicode.IsSpace) >= 0 {
			return fmt.Errorf("whitespace in %s", f.name)
		}
	}
	return nil
}

// IsCCX reports whether the key names a custom course.
func (k CourseKey) IsCCX() bool {
	return k.CCX != ""
}

// Stem returns org-course-run, with -ccx-N appended for custom courses.
func (k CourseKey) Stem() string {
	parts := []string{k.Org, k.Course, k.Run}
	if k.IsCCX() {
		parts = append(parts, "ccx", k.CCX)
	}
	return strings.Join(parts, "-")
}

// SafeCourseID renders a course id as org_course_run for use in directory names and object keys.
//
// Identifiers that do not parse are sanitized as-is.
func SafeCourseID(id string) string {
	key, err := ParseCourseKey(id)
	if err != nil {
		return SafeName(id, DefaultPlaceholder)
	}
	return SafeName(strings.Join([]string{key.Org, key.Course, key.Run}, "_"), DefaultPlaceholder)
}
