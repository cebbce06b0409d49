package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

// Invocation is everything a backend needs to run one task.
type Invocation struct {
	Task     models.Descriptor
	Filename string
	Context  models.ExecContext
	Params   map[string]string
	Logger   *log.Logger
}

// Backend executes a task and writes its output to Invocation.Filename.
type Backend interface {
	Run(ctx context.Context, inv Invocation) error
}

// Validator is implemented by backends that can check a task's parameters without running it.
type Validator interface {
	Validate(task models.Descriptor, params map[string]string) error
}

// BackendFunc adapts a function to [Backend].
type BackendFunc func(ctx context.Context, inv Invocation) error

func (f BackendFunc) Run(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// Registry is the dispatch table from backend kind to implementation.
type Registry struct {
	backends map[models.BackendKind]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[models.BackendKind]Backend)}
}

// Register sets the backend for kind and returns the registry for chaining.
func (r *Registry) Register(kind models.BackendKind, b Backend) *Registry {
	r.backends[kind] = b
	return r
}

// Lookup returns the backend for kind.
func (r *Registry) Lookup(kind models.BackendKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for %s", shared.ErrInvalidConfig, kind)
	}
	return b, nil
}

// Validate checks task against its backend when the backend implements [Validator].
func (r *Registry) Validate(task models.Descriptor, params map[string]string) error {
	b, err := r.Lookup(task.Backend)
	if err != nil {
		return err
	}
	if v, ok := b.(Validator); ok {
		return v.Validate(task, params)
	}
	return nil
}

func requireParams(params map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrMissingParam, strings.Join(missing, ", "))
	}
	return nil
}

func loggerFor(inv Invocation) *log.Logger {
	if inv.Logger != nil {
		return inv.Logger
	}
	return shared.NewLogger(nil)
}
