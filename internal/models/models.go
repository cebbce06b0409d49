package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Scope determines which context fields a task needs and how its filename is built.
type Scope int

const (
	ScopeOrganization Scope = iota
	ScopeCourse
)

func (s Scope) String() string {
	switch s {
	case ScopeOrganization:
		return "organization"
	case ScopeCourse:
		return "course"
	default:
		return ""
	}
}

// BackendKind selects the execution strategy used for a task.
type BackendKind int

const (
	StructuredQuery BackendKind = iota // SQL query written as TSV
	DocumentQuery                      // document-store export via an external tool
	AdminCommand                       // platform administration command
	RemoteCopy                         // copy of a file produced by an upstream pipeline
)

func (b BackendKind) String() string {
	switch b {
	case StructuredQuery:
		return "structured_query"
	case DocumentQuery:
		return "document_query"
	case AdminCommand:
		return "admin_command"
	case RemoteCopy:
		return "remote_copy"
	default:
		return ""
	}
}

// NamingStyle controls the layout of an artifact filename.
type NamingStyle int

const (
	// NamingDefault produces {scope}-{table}-{name}.{ext}.
	NamingDefault NamingStyle = iota
	// NamingByEnvironment produces {course}-{environment}.{ext}, the legacy forum export layout.
	NamingByEnvironment
)

// Descriptor is the immutable record describing one extraction task.
type Descriptor struct {
	Name         string // catalog key, unique case-insensitively
	Table        string // filename segment, defaults to Name
	Scope        Scope
	Backend      BackendKind
	Extension    string
	Subdirectory string // optional directory below the working directory
	Naming       NamingStyle

	// Template is the SQL statement or document query, with {param} placeholders.
	Template string

	// Admin command fields.
	Command     string // administration command name
	Args        string // argument template
	Output      string // output redirect template, "" discards stdout
	Vars        string // environment assignments, split like a shell would
	SettingsKey string // value key holding the settings module, defaults to django_settings
	OutputAsArg bool   // pass the output path as a positional argument instead of redirecting stdout

	// MaxTries raises the retry budget for this task; 0 keeps the context default.
	MaxTries int
}

// FileSegment returns the name used inside artifact filenames.
func (d Descriptor) FileSegment() string {
	if d.Table != "" {
		return d.Table
	}
	return d.Name
}

// Validate checks the fields every backend relies on.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if d.Extension == "" {
		return fmt.Errorf("descriptor %s has no extension", d.Name)
	}
	if d.Backend.String() == "" {
		return fmt.Errorf("descriptor %s has unknown backend %d", d.Name, d.Backend)
	}
	if d.Scope.String() == "" {
		return fmt.Errorf("descriptor %s has unknown scope %d", d.Name, d.Scope)
	}
	switch d.Backend {
	case StructuredQuery, DocumentQuery:
		if d.Template == "" {
			return fmt.Errorf("descriptor %s has no query template", d.Name)
		}
	case AdminCommand:
		if d.Command == "" {
			return fmt.Errorf("descriptor %s has no command", d.Name)
		}
	}
	return nil
}

// ExecContext carries everything a task needs for one scope instance.
//
// Each task receives its own copy via [ExecContext.Clone].
type ExecContext struct {
	Organization string
	OtherNames   []string
	Course       string // empty for organization-scope tasks
	Environment  string
	Courses      []string // courses of the organization in this environment
	Name         string   // export name used in filenames
	WorkDir      string
	DryRun       bool
	Limit        int
	MaxTries     int
	Values       map[string]string
}

// Clone returns a copy whose maps and slices can be mutated without affecting c.
func (c ExecContext) Clone() ExecContext {
	out := c
	out.OtherNames = slices.Clone(c.OtherNames)
	out.Courses = slices.Clone(c.Courses)
	out.Values = maps.Clone(c.Values)
	if out.Values == nil {
		out.Values = map[string]string{}
	}
	return out
}

// Status describes the outcome recorded for an artifact.
type Status int

const (
	StatusProduced Status = iota
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProduced:
		return "produced"
	case StatusFailed:
		return "failed"
	default:
		return ""
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "produced":
		*s = StatusProduced
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown artifact status %q", b)
	}
	return nil
}

// Artifact is the file a task left in the working directory.
//
// For failed tasks Path points at the placeholder file.
type Artifact struct {
	Task         string `json:"task"`
	Path         string `json:"path"`
	Status       Status `json:"status"`
	Organization string `json:"organization,omitempty"`
	Course       string `json:"course,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Failed reports whether the artifact is a failure placeholder.
func (a Artifact) Failed() bool {
	return a.Status == StatusFailed
}
