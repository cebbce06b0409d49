package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/exporter/internal/catalog"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/pipeline"
	"github.com/desertthunder/exporter/internal/shared"
	"github.com/desertthunder/exporter/internal/tasks"
)

// TaskTable renders descs as a bordered table.
func TaskTable(descs []models.Descriptor) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.muted).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.heading.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("TASK", "SCOPE", "BACKEND", "FILE", "PARAMS", "NOTES")

	for _, d := range descs {
		params := shared.Placeholders(strings.Join([]string{d.Template, d.Args, d.Vars, d.Output}, " "))
		t.Row(d.Name, d.Scope.String(), d.Backend.String(), d.FileSegment()+"."+d.Extension, strings.Join(params, " "), notes(d))
	}
	return t.Render()
}

func notes(d models.Descriptor) string {
	var n []string
	if d.Subdirectory != "" {
		n = append(n, "dir="+d.Subdirectory)
	}
	if d.Naming == models.NamingByEnvironment {
		n = append(n, "per-environment name")
	}
	if strings.EqualFold(d.Name, catalog.OptInTask) {
		n = append(n, "opt-in, skipped in "+catalog.RestrictedEnvironment)
	}
	if d.MaxTries > 0 {
		n = append(n, fmt.Sprintf("tries=%d", d.MaxTries))
	}
	return strings.Join(n, ", ")
}

// ProgressLine renders one progress event, or "" for events not worth printing.
func ProgressLine(u tasks.ProgressUpdate) string {
	switch u.Phase {
	case tasks.ListCourses:
		return "🔍 " + u.Message
	case tasks.RunOrganization:
		return "\n" + styles.Heading(u.Message)
	case tasks.RunCourse:
		return "📚 " + u.Message
	case tasks.TaskProduced:
		return "   " + styles.Produced(u.Message)
	case tasks.TaskFailed:
		return "   " + styles.Failed(u.Message)
	case tasks.Encrypt, tasks.Archive, tasks.Upload:
		return "📦 " + u.Message
	default:
		return ""
	}
}

// Summary renders the outcome of finished exports.
func Summary(results []*pipeline.Result) string {
	var b strings.Builder
	b.WriteString("═══════════════════════════════════════\n")
	b.WriteString("Export Complete!\n")
	b.WriteString("═══════════════════════════════════════\n")

	for _, res := range results {
		name := res.Organization
		if res.Course != "" {
			name = res.Course
		}
		produced, failed := 0, 0
		for _, a := range res.Artifacts {
			if a.Failed() {
				failed++
			} else {
				produced++
			}
		}

		status := styles.Produced(fmt.Sprintf("%d produced", produced))
		if failed > 0 {
			status += ", " + styles.Failed(fmt.Sprintf("%d failed", failed))
		}
		fmt.Fprintf(&b, "%s: %s\n", name, status)
		for _, a := range res.Artifacts {
			if a.Failed() {
				fmt.Fprintf(&b, "  %s %s\n", styles.Notice("✗ "+a.Task), styles.Muted(a.Error))
			}
		}
		for _, target := range res.Targets {
			fmt.Fprintf(&b, "  → %s\n", target)
		}
	}
	return b.String()
}
