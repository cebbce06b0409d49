package services

import (
	"context"
	"fmt"

	"github.com/google/shlex"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

const defaultSettingsKey = "django_settings"

// AdminSpec describes one administration command invocation before parameters are bound.
type AdminSpec struct {
	Command     string
	Args        string
	Vars        string
	Output      string
	SettingsKey string
	OutputAsArg bool
}

// SpecFor extracts the admin fields of a descriptor.
func SpecFor(task models.Descriptor) AdminSpec {
	return AdminSpec{
		Command:     task.Command,
		Args:        task.Args,
		Vars:        task.Vars,
		Output:      task.Output,
		SettingsKey: task.SettingsKey,
		OutputAsArg: task.OutputAsArg,
	}
}

// BuildAdminCommand binds spec against params and returns the process to run.
//
// When django_user is set the command runs through sudo -E -u with the variables as assignments,
// otherwise they are added to the environment. Without OutputAsArg, stdout is written to the bound output.
func BuildAdminCommand(spec AdminSpec, params map[string]string) (Command, error) {
	settingsKey := spec.SettingsKey
	if settingsKey == "" {
		settingsKey = defaultSettingsKey
	}
	if err := requireParams(params, "django_admin", settingsKey); err != nil {
		return Command{}, err
	}

	vars, err := bindFields(spec.Vars, params)
	if err != nil {
		return Command{}, fmt.Errorf("vars: %w", err)
	}
	args, err := bindFields(spec.Args, params)
	if err != nil {
		return Command{}, fmt.Errorf("args: %w", err)
	}
	output := ""
	if spec.Output != "" {
		if output, err = shared.Bind(spec.Output, params); err != nil {
			return Command{}, fmt.Errorf("output: %w", err)
		}
	}

	admin := []string{spec.Command, "--settings=" + params[settingsKey]}
	if pp := params["django_pythonpath"]; pp != "" {
		admin = append(admin, "--pythonpath="+pp)
	}

	cmd := Command{}
	if spec.OutputAsArg && output != "" {
		admin = append(admin, output)
	} else {
		cmd.OutputPath = output
	}
	admin = append(admin, args...)

	if user := params["django_user"]; user != "" {
		cmd.Name = "sudo"
		cmd.Args = append([]string{"-E", "-u", user}, vars...)
		cmd.Args = append(cmd.Args, params["django_admin"])
		cmd.Args = append(cmd.Args, admin...)
	} else {
		cmd.Name = params["django_admin"]
		cmd.Args = admin
		cmd.Env = vars
	}
	return cmd, nil
}

func bindFields(tmpl string, params map[string]string) ([]string, error) {
	if tmpl == "" {
		return nil, nil
	}
	bound, err := shared.Bind(tmpl, params)
	if err != nil {
		return nil, err
	}
	return shlex.Split(bound)
}

// AdminBackend runs platform administration commands.
type AdminBackend struct{}

func NewAdminBackend() *AdminBackend {
	return &AdminBackend{}
}

func (b *AdminBackend) Validate(task models.Descriptor, params map[string]string) error {
	if _, err := BuildAdminCommand(SpecFor(task), params); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	return nil
}

func (b *AdminBackend) Run(ctx context.Context, inv Invocation) error {
	logger := loggerFor(inv)

	cmd, err := BuildAdminCommand(SpecFor(inv.Task), inv.Params)
	if err != nil {
		return err
	}
	cmd.MaxTries = inv.Context.MaxTries
	cmd.Logger = inv.Logger

	if inv.Context.DryRun {
		logger.Info("dry run: skipping admin command", "task", inv.Task.Name, "command", cmd.String())
		return nil
	}

	logger.Debug("running admin command", "command", cmd.String())
	return Execute(ctx, cmd)
}
