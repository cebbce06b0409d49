// Package models defines the records shared by the export engine.
//
// The package contains three groups of types:
//
// 1. Task definitions: immutable records registered once at startup
//   - [Descriptor] : a named extraction task with an explicit [Scope] and [BackendKind]
//   - [NamingStyle] : how the artifact filename is assembled
//
// 2. Run state: values built per scope instance and copied per task
//   - [ExecContext] : organization, course, environment, template values and run flags
//   - [TaskState] : lifecycle of a single task execution
//
// 3. Results
//   - [Artifact] : the file a task left in the working directory and its [Status]
//
// Nothing in this package performs I/O.
package models
