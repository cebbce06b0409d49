package tasks

import (
	"strings"

	"github.com/desertthunder/exporter/internal/catalog"
	"github.com/desertthunder/exporter/internal/models"
)

// SelectRequest narrows a catalog to the tasks for one scope.
type SelectRequest struct {
	Scope       models.Scope
	Include     []string // empty means every task of the scope
	Exclude     []string
	Environment string
}

// Select returns the descriptors of req.Scope that survive the include and exclude lists, in catalog order.
//
// Names match case-insensitively. Included names with no descriptor are ignored and exclusion wins over inclusion.
func Select(descs []models.Descriptor, req SelectRequest) []models.Descriptor {
	include := lowerSet(req.Include)
	exclude := lowerSet(req.Exclude)

	out := make([]models.Descriptor, 0, len(descs))
	for _, d := range descs {
		if d.Scope != req.Scope {
			continue
		}
		name := strings.ToLower(d.Name)
		if len(include) > 0 && !include[name] {
			continue
		}
		if exclude[name] {
			continue
		}
		out = append(out, d)
	}
	return filterRestricted(out, req.Environment)
}

// filterRestricted drops the opt-in export in the restricted environment, whatever the request says.
func filterRestricted(descs []models.Descriptor, env string) []models.Descriptor {
	if !strings.EqualFold(env, catalog.RestrictedEnvironment) {
		return descs
	}
	out := descs[:0]
	for _, d := range descs {
		if strings.EqualFold(d.Name, catalog.OptInTask) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[strings.ToLower(n)] = true
		}
	}
	return set
}
