package tasks

import (
	"fmt"

	"github.com/desertthunder/exporter/internal/models"
)

// ProgressUpdate represents a progress event during an export.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data, an [models.Artifact] for task phases
}

// Operation phase enumeration
type Phase int

const (
	ListCourses Phase = iota
	RunOrganization
	RunCourse
	TaskProduced
	TaskFailed
	Encrypt
	Archive
	Upload
)

func (p Phase) String() string {
	switch p {
	case ListCourses:
		return "list_courses"
	case RunOrganization:
		return "run_organization"
	case RunCourse:
		return "run_course"
	case TaskProduced:
		return "task_produced"
	case TaskFailed:
		return "task_failed"
	case Encrypt:
		return "encrypt"
	case Archive:
		return "archive"
	case Upload:
		return "upload"
	default:
		return ""
	}
}

// SendProgress sends update without blocking. A nil or full channel drops the update.
func SendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func listCoursesUpdate(step, total int, env string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListCourses,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Listing courses in %s...", env),
	}
}

func organizationUpdate(step, total int, org, env string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RunOrganization,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Exporting %s (%s)...", org, env),
	}
}

func courseUpdate(step, total int, course string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RunCourse,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting course %s...", step, total, course),
	}
}

func taskUpdate(step, total int, a models.Artifact) ProgressUpdate {
	if a.Failed() {
		return ProgressUpdate{
			Phase:   TaskFailed,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, a.Task, a.Error),
			Data:    a,
		}
	}
	return ProgressUpdate{
		Phase:   TaskProduced,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, a.Task),
		Data:    a,
	}
}

// StageUpdate reports a packaging stage.
func StageUpdate(phase Phase, message string) ProgressUpdate {
	return ProgressUpdate{Phase: phase, Step: 1, Total: 1, Message: message}
}
