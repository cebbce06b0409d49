// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("EXPORTER_CONFIG"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
	}
}

// runFlags are shared by every command that runs export tasks.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "work-dir",
			Usage: "Scratch directory for working files",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Run name used in artifact filenames",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Append a row limit to every SQL query",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Destination locator (s3://, sftp:// or a local path)",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Prefix for uploaded object names",
		},
		&cli.StringSliceFlag{
			Name:    "task",
			Aliases: []string{"t"},
			Usage:   "Run only the named tasks",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-task",
			Usage: "Skip the named tasks",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Log commands and queries without running them",
		},
		&cli.BoolFlag{
			Name:  "keep-work-dir",
			Usage: "Keep the scratch directory after the run",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Do not print progress",
		},
	}
}

func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export, encrypt and upload one archive per organization",
		Flags: append(runFlags(),
			&cli.StringSliceFlag{
				Name:  "org",
				Usage: "Organizations to export (default: every configured organization)",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Environments to visit (default: export.environments)",
			},
			&cli.StringSliceFlag{
				Name:  "course",
				Usage: "Restrict the export to these courses",
			},
		),
		Action: r.Export,
	}
}

func courseExportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "course-export",
		Aliases:   []string{"courses"},
		Usage:     "Export course state for the given course ids",
		ArgsUsage: "COURSE_ID...",
		Flags: append(runFlags(),
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Environments to search for the courses",
			},
		),
		Action: r.CourseExport,
	}
}

func singleOrgCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "single-org",
		Usage: "Export one organization from one environment with a directory per course",
		Flags: append(runFlags(),
			&cli.StringFlag{
				Name:     "org",
				Usage:    "Organization to export",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "env",
				Usage:    "Environment to export from",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "course",
				Usage: "Restrict the export to these courses",
			},
		),
		Action: r.SingleOrg,
	}
}

func tasksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List the registered export tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Only show organization or course tasks",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Apply the environment restrictions of env",
			},
			&cli.StringSliceFlag{
				Name:    "task",
				Aliases: []string{"t"},
				Usage:   "Only show the named tasks",
			},
			&cli.StringSliceFlag{
				Name:  "exclude-task",
				Usage: "Hide the named tasks",
			},
		},
		Action: r.Tasks,
	}
}

func propertiesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "properties",
		Usage: "Write one KEY=VALUE property file per organization",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Usage:    "Directory to write the property files into (recreated)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "orgs",
				Usage: "Space separated organization patterns",
				Value: "*",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Files appended to every property file",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Bucket written as OUTPUT_BUCKET",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Prefix written as OUTPUT_PREFIX",
			},
		},
		Action: r.Properties,
	}
}

func scheduleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the organization export on a cron schedule",
		Flags: append(runFlags(),
			&cli.StringFlag{
				Name:  "spec",
				Usage: "Cron expression (default: schedule.spec)",
			},
			&cli.StringSliceFlag{
				Name:  "org",
				Usage: "Organizations to export (default: every configured organization)",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Environments to visit (default: export.environments)",
			},
		),
		Action: r.Schedule,
	}
}

func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Write an example configuration file to --config",
		Action: r.Init,
	}
}

func checkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the configuration and the parameters of the selected tasks",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "org",
				Usage: "Organizations to check (default: every configured organization)",
			},
		},
		Action: r.Check,
	}
}
