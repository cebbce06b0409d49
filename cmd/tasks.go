package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/catalog"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/tasks"
	"github.com/desertthunder/exporter/internal/ui"
)

// Tasks prints the registered tasks, optionally narrowed the way an export would select them.
func (r *Runner) Tasks(ctx context.Context, cmd *cli.Command) error {
	cat := catalog.Default()
	if unknown := cat.Unknown(cmd.StringSlice("task")); len(unknown) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, strings.Join(unknown, ", "))
	}

	var scopes []models.Scope
	switch strings.ToLower(cmd.String("scope")) {
	case "":
		scopes = []models.Scope{models.ScopeOrganization, models.ScopeCourse}
	case "org", "organization":
		scopes = []models.Scope{models.ScopeOrganization}
	case "course":
		scopes = []models.Scope{models.ScopeCourse}
	default:
		return fmt.Errorf("%w: --scope must be organization or course", shared.ErrInvalidFlag)
	}

	var descs []models.Descriptor
	for _, scope := range scopes {
		descs = append(descs, tasks.Select(cat.All(), tasks.SelectRequest{
			Scope:       scope,
			Include:     cmd.StringSlice("task"),
			Exclude:     cmd.StringSlice("exclude-task"),
			Environment: cmd.String("env"),
		})...)
	}

	r.writePlain("%s\n", ui.TaskTable(descs))
	r.writePlain("%d tasks\n", len(descs))
	return nil
}
