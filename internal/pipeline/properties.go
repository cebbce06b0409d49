package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/desertthunder/exporter/internal/formatter"
	"github.com/desertthunder/exporter/internal/shared"
)

// PropertiesRequest describes a properties run.
type PropertiesRequest struct {
	Dir      string   // recreated on every run
	Patterns string   // space separated wildcard patterns; empty matches every organization
	Includes []string // files appended to every property file
}

// MatchOrganizations returns the configured organizations matching any of the space separated patterns.
//
// Matching is case-insensitive.
func MatchOrganizations(names []string, patterns string) ([]string, error) {
	globs := strings.Fields(strings.ToLower(patterns))
	if len(globs) == 0 {
		globs = []string{"*"}
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: bad organization pattern %q", shared.ErrInvalidArgument, g)
		}
	}

	var matched []string
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, g := range globs {
			if ok, _ := doublestar.Match(g, lower); ok {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched, nil
}

// Properties writes one property file per matching organization into req.Dir and returns their paths.
func (p *Pipeline) Properties(req PropertiesRequest) ([]string, error) {
	orgs, err := MatchOrganizations(p.cfg.OrganizationNames(), req.Patterns)
	if err != nil {
		return nil, err
	}
	extra, err := formatter.LoadIncludes(req.Includes)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(req.Dir); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", req.Dir, err)
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", req.Dir, err)
	}

	paths := make([]string, 0, len(orgs))
	for _, org := range orgs {
		path, err := formatter.WriteProperties(req.Dir, formatter.Properties{
			Organization: strings.ToLower(org),
			Bucket:       p.cfg.Output.Locator,
			Prefix:       p.prefix(org),
			Extra:        extra,
		})
		if err != nil {
			return nil, err
		}
		p.logger.Debug("wrote property file", "organization", org, "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}
