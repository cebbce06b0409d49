// Package tasks selects export tasks and runs them with per-task failure isolation.
//
// # Selection
//
// [Select] narrows a catalog to one scope (organization or course) using case-insensitive include and exclude
// lists. The result keeps catalog order. The email opt-in export is always dropped in the restricted environment.
//
// # Running
//
// [TaskRunner.RunOne] resolves the artifact filename, hands a private copy of the execution context to the
// backend registered for the task's kind and records the outcome:
//
//  1. Success : the output path is returned as a produced artifact
//  2. Failure : partial output is removed and a placeholder ending in [FailedSuffix] is returned as a failed artifact
//  3. Fatal   : the error is returned and [TaskRunner.RunTasks] stops the batch
//
// Task timing is reported through an OpenTelemetry histogram when the run has an organization.
//
// # Orchestration
//
// The [Orchestrator] lists courses for every environment, then runs organization tasks followed by course tasks
// for each course. Course exports locate each course in the first environment that lists it.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates. [ProgressUpdate] carries a phase, step counters,
// a message and, for task phases, the resulting [models.Artifact].
package tasks
