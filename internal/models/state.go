package models

import "fmt"

// TaskState is the lifecycle of a single task execution.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailedRecoverable
	TaskFailedFatal
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailedRecoverable:
		return "failed"
	case TaskFailedFatal:
		return "fatal"
	default:
		return ""
	}
}

// IsTerminal reports whether the state is final.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailedRecoverable, TaskFailedFatal:
		return true
	default:
		return false
	}
}

// Transition validates a move from s to next and returns next.
func (s TaskState) Transition(next TaskState) (TaskState, error) {
	if !isAllowedTransition(s, next) {
		return s, fmt.Errorf("disallowed task state transition: %s -> %s", s, next)
	}
	return next, nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskSucceeded || to == TaskFailedRecoverable || to == TaskFailedFatal
	default:
		return false
	}
}
