// Package catalog holds the immutable table of export tasks.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

const (
	// RestrictedEnvironment is the environment where [OptInTask] never runs.
	RestrictedEnvironment = "edge"
	// OptInTask exports email opt-in preferences and is skipped in [RestrictedEnvironment].
	OptInTask = "OrgEmailOptInTask"
)

// Catalog is an ordered, read-only set of task descriptors.
type Catalog struct {
	descs []models.Descriptor
	index map[string]int
}

// New validates descs and builds a catalog preserving their order.
func New(descs ...models.Descriptor) (*Catalog, error) {
	c := &Catalog{
		descs: make([]models.Descriptor, 0, len(descs)),
		index: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", shared.ErrInvalidConfig, err)
		}
		key := strings.ToLower(d.Name)
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q", shared.ErrInvalidConfig, d.Name)
		}
		c.index[key] = len(c.descs)
		c.descs = append(c.descs, d)
	}
	return c, nil
}

// MustNew is like [New] but panics on an invalid table.
func MustNew(descs ...models.Descriptor) *Catalog {
	c, err := New(descs...)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns the descriptors in registration order.
func (c *Catalog) All() []models.Descriptor {
	return slices.Clone(c.descs)
}

// Scoped returns the descriptors with the given scope in registration order.
func (c *Catalog) Scoped(scope models.Scope) []models.Descriptor {
	out := make([]models.Descriptor, 0, len(c.descs))
	for _, d := range c.descs {
		if d.Scope == scope {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds a descriptor by name, ignoring case.
func (c *Catalog) Lookup(name string) (models.Descriptor, bool) {
	i, ok := c.index[strings.ToLower(name)]
	if !ok {
		return models.Descriptor{}, false
	}
	return c.descs[i], true
}

// Names returns the task names in registration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.descs))
	for i, d := range c.descs {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered tasks.
func (c *Catalog) Len() int {
	return len(c.descs)
}

// Unknown returns the names in requested that are not registered.
func (c *Catalog) Unknown(requested []string) []string {
	var out []string
	for _, name := range requested {
		if _, ok := c.Lookup(name); !ok {
			out = append(out, name)
		}
	}
	return out
}
